package ports

import (
	"context"
	"time"

	"github.com/layer-3/agentrelay/core"
)

// SessionStore keeps verified sessions keyed by account id
type SessionStore interface {
	SetSession(ctx context.Context, session core.Session, ttl time.Duration) error
	// GetSession returns core.ErrSessionNotFound when absent or expired
	GetSession(ctx context.Context, accountID string) (core.Session, error)
}

// RunRegistry holds the latest run per account.
// Complete and Fail only apply while the stored record still has the given
// run id and is running; otherwise they return core.ErrRunSuperseded or
// core.ErrRunNotRunning.
type RunRegistry interface {
	Upsert(ctx context.Context, run core.Run) error
	Get(ctx context.Context, accountID string) (core.Run, error)
	Running(ctx context.Context) ([]string, error)
	Complete(ctx context.Context, accountID, runID, result string) error
	Fail(ctx context.Context, accountID, runID, reason string) error
	// Untrack drops the account from the running index unless its record is running
	Untrack(ctx context.Context, accountID string) error
}

// Deduper remembers idempotency keys
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}
