package nearauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
)

const fullAccess = "FullAccess"

var _ ports.KeyAuthority = (*RPCKeyAuthority)(nil)

type accessKeyList struct {
	Keys []struct {
		PublicKey string `json:"public_key"`
		AccessKey struct {
			Nonce uint64 `json:"nonce"`
			// "FullAccess" or a {"FunctionCall": {...}} object
			Permission json.RawMessage `json:"permission"`
		} `json:"access_key"`
	} `json:"keys"`
}

// RPCKeyAuthority lists account keys through the NEAR JSON-RPC "query" method
type RPCKeyAuthority struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewRPCKeyAuthority creates a key authority client for the given RPC endpoint
func NewRPCKeyAuthority(ctx context.Context, endpoint string, timeout time.Duration) (*RPCKeyAuthority, error) {
	client, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to dial key authority: %w", err)
	}
	return &RPCKeyAuthority{client: client, timeout: timeout}, nil
}

// AccessKeys returns the access keys of the account
func (a *RPCKeyAuthority) AccessKeys(ctx context.Context, accountID string) ([]core.AccessKey, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var list accessKeyList
	if err := a.client.CallContext(ctx, &list, "query", "access_key/"+accountID, ""); err != nil {
		return nil, fmt.Errorf("failed to query access keys: %w", err)
	}

	keys := make([]core.AccessKey, 0, len(list.Keys))
	for _, k := range list.Keys {
		var permission string
		isFull := json.Unmarshal(k.AccessKey.Permission, &permission) == nil && permission == fullAccess
		keys = append(keys, core.AccessKey{
			PublicKey:  k.PublicKey,
			FullAccess: isFull,
		})
	}
	return keys, nil
}

// Close releases the RPC client
func (a *RPCKeyAuthority) Close() {
	a.client.Close()
}
