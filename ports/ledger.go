package ports

import (
	"context"

	"github.com/layer-3/agentrelay/core"
)

// Ledger records run lifecycle transitions on chain. Both calls return only
// after the transaction is confirmed.
type Ledger interface {
	NotifyInitiated(ctx context.Context, accountID, threadID, runID string) error
	NotifyFinished(ctx context.Context, accountID, threadID, runID, result string) error
}

// LedgerReader exposes the contract's read-only accessors
type LedgerReader interface {
	Owner(ctx context.Context) (string, error)
	Query(ctx context.Context, id uint64) (core.LedgerQuery, error)
}
