package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"go.uber.org/zap"
)

// confirmed notifications are remembered this long
const dedupeTTL = 7 * 24 * time.Hour

var _ ports.Ledger = (*Notifier)(nil)

// Config holds the ledger connection settings
type Config struct {
	RPCURL          string
	PrivateKey      string // hex, with or without 0x
	ContractAddress string
	GasTipGwei      string
	MaxAttempts     uint
	Timeout         time.Duration
	Backoff         time.Duration
}

// contract is the subset of bind.BoundContract the ledger uses
type contract interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

// confirmer waits for a transaction receipt
type confirmer interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type backendConfirmer struct {
	backend bind.DeployBackend
}

func (c backendConfirmer) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.backend, tx)
}

// Notifier sends run lifecycle transitions to the contract and waits for
// confirmation. Each notification is keyed by event, account and run so a
// confirmed one is never sent twice; transient failures are retried with
// exponential backoff, reverts are returned at once.
type Notifier struct {
	contract    contract
	confirmer   confirmer
	opts        *bind.TransactOpts
	dedupe      ports.Deduper
	logger      *zap.Logger
	maxAttempts uint
	timeout     time.Duration
	backoff     time.Duration

	// one sender account: submissions take the slot so nonces stay ordered,
	// confirmations are awaited without it
	sendSlot chan struct{}
	client   *ethclient.Client
}

// Dial connects to the chain and binds the contract
func Dial(ctx context.Context, cfg Config, dedupe ports.Deduper, logger *zap.Logger) (*Notifier, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	if cfg.GasTipGwei != "" {
		tip, err := GweiToWei(cfg.GasTipGwei)
		if err != nil {
			client.Close()
			return nil, err
		}
		opts.GasTipCap = tip
	}

	parsed, err := ParseABI()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		client.Close()
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	bound := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)

	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	n := newNotifier(bound, backendConfirmer{backend: client}, opts, dedupe, logger, cfg)
	n.client = client
	return n, nil
}

func newNotifier(c contract, conf confirmer, opts *bind.TransactOpts, dedupe ports.Deduper, logger *zap.Logger, cfg Config) *Notifier {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Notifier{
		contract:    c,
		confirmer:   conf,
		opts:        opts,
		dedupe:      dedupe,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		backoff:     cfg.Backoff,
		sendSlot:    make(chan struct{}, 1),
	}
}

// Sender returns the address notifications are sent from
func (n *Notifier) Sender() string {
	return n.opts.From.Hex()
}

// NotifyInitiated records that a run was started for the account
func (n *Notifier) NotifyInitiated(ctx context.Context, accountID, threadID, runID string) error {
	key := idempotencyKey(core.LedgerEventInitiated, accountID, runID)
	return n.notify(ctx, key, MethodAgentInitiated, accountID, threadID)
}

// NotifyFinished records that a run finished with the given result
func (n *Notifier) NotifyFinished(ctx context.Context, accountID, threadID, runID, result string) error {
	key := idempotencyKey(core.LedgerEventFinished, accountID, runID)
	return n.notify(ctx, key, MethodAgentFinished, accountID, threadID, result)
}

// Close releases the chain connection
func (n *Notifier) Close() {
	if n.client != nil {
		n.client.Close()
	}
}

func idempotencyKey(event core.LedgerEvent, accountID, runID string) string {
	return fmt.Sprintf("%s:%s:%s", event, accountID, runID)
}

func (n *Notifier) notify(ctx context.Context, key, method string, params ...interface{}) error {
	if n.dedupe != nil {
		seen, err := n.dedupe.Seen(ctx, key)
		if err != nil {
			n.logger.Warn("ledger dedupe check failed", zap.String("key", key), zap.Error(err))
		}
		if seen {
			n.logger.Debug("ledger notification already confirmed", zap.String("key", key))
			return nil
		}
	}

	var (
		pending  *types.Transaction
		terminal error
	)
	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			terminal = err
			return nil
		}

		var err error
		pending, err = n.send(ctx, pending, method, params...)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			terminal = ctxErr
			return nil
		}
		if errors.Is(err, core.ErrLedgerReverted) {
			terminal = err
			return nil
		}
		if err != nil {
			n.logger.Warn("ledger call failed",
				zap.String("method", method),
				zap.String("key", key),
				zap.Uint("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, strategy.Limit(n.maxAttempts), strategy.Backoff(backoff.Exponential(n.backoff, 2)))

	if terminal != nil {
		return terminal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrLedgerUnavailable, method, err)
	}

	if n.dedupe != nil {
		if err := n.dedupe.Mark(ctx, key, dedupeTTL); err != nil {
			n.logger.Warn("failed to remember ledger notification", zap.String("key", key), zap.Error(err))
		}
	}
	n.logger.Info("ledger notification confirmed", zap.String("method", method), zap.String("key", key))
	return nil
}

// send submits the call unless a transaction from an earlier attempt is
// still unconfirmed, in which case it keeps waiting on that one. It returns
// the transaction to wait on next time, nil once confirmed.
func (n *Notifier) send(ctx context.Context, pending *types.Transaction, method string, params ...interface{}) (*types.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	tx := pending
	if tx == nil {
		var err error
		tx, err = n.submit(callCtx, method, params...)
		if err != nil {
			return nil, err
		}
	}

	receipt, err := n.confirmer.WaitMined(callCtx, tx)
	if err != nil {
		return tx, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s in tx %s", core.ErrLedgerReverted, method, tx.Hash().Hex())
	}
	return nil, nil
}

// submit sends the transaction while holding the send slot. Waiting for the
// slot gives up when ctx is done.
func (n *Notifier) submit(ctx context.Context, method string, params ...interface{}) (*types.Transaction, error) {
	select {
	case n.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("submit %s: %w", method, ctx.Err())
	}
	defer func() { <-n.sendSlot }()

	opts := *n.opts
	opts.Context = ctx

	tx, err := n.contract.Transact(&opts, method, params...)
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrLedgerReverted, method, err)
		}
		return nil, fmt.Errorf("submit %s: %w", method, err)
	}
	return tx, nil
}
