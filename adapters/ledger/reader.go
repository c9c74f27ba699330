package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
)

var _ ports.LedgerReader = (*Reader)(nil)

// Reader calls the contract's view accessors
type Reader struct {
	contract contract
	client   *ethclient.Client
}

// DialReader connects a read-only view of the contract
func DialReader(ctx context.Context, rpcURL, address string) (*Reader, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	parsed, err := ParseABI()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	bound := bind.NewBoundContract(common.HexToAddress(address), parsed, client, client, client)
	return &Reader{contract: bound, client: client}, nil
}

// Owner returns the contract owner address
func (r *Reader) Owner(ctx context.Context) (string, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodOwner); err != nil {
		return "", fmt.Errorf("%w: owner: %v", core.ErrLedgerUnavailable, err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("owner: unexpected %d outputs", len(out))
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("owner: unexpected output type %T", out[0])
	}
	return owner.Hex(), nil
}

// Query returns one entry of the queries mapping
func (r *Reader) Query(ctx context.Context, id uint64) (core.LedgerQuery, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodQueries, new(big.Int).SetUint64(id))
	if err != nil {
		return core.LedgerQuery{}, fmt.Errorf("%w: queries: %v", core.ErrLedgerUnavailable, err)
	}
	if len(out) != 4 {
		return core.LedgerQuery{}, fmt.Errorf("queries: unexpected %d outputs", len(out))
	}

	user, ok1 := out[0].(common.Address)
	text, ok2 := out[1].(string)
	state, ok3 := out[2].(uint8)
	runID, ok4 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return core.LedgerQuery{}, fmt.Errorf("queries: unexpected output types")
	}
	return core.LedgerQuery{
		User:      user.Hex(),
		QueryText: text,
		State:     state,
		RunID:     runID.String(),
	}, nil
}

// Close releases the chain connection
func (r *Reader) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
