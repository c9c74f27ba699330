package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
)

var (
	_ ports.SessionStore = (*MemoryStore)(nil)
	_ ports.RunRegistry  = (*MemoryStore)(nil)
	_ ports.Deduper      = (*MemoryStore)(nil)
)

type expiring struct {
	value     string
	expiresAt time.Time
}

func (e expiring) alive(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryStore is an in-memory implementation of the stores, used in tests
// and for running without Redis
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]expiring
	runs     map[string]core.Run
	keys     map[string]expiring
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]expiring),
		runs:     make(map[string]core.Run),
		keys:     make(map[string]expiring),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for expiry
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) SetSession(ctx context.Context, session core.Session, ttl time.Duration) error {
	raw, err := sessionPayload(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := expiring{value: raw}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.sessions[session.AccountID] = entry
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, accountID string) (core.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[accountID]
	now := s.now()
	s.mu.RUnlock()

	if !ok || !entry.alive(now) {
		return core.Session{}, core.ErrSessionNotFound
	}
	return decodeSession(accountID, entry.value)
}

func (s *MemoryStore) Upsert(ctx context.Context, run core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.AccountID] = run
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, accountID string) (core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[accountID]
	if !ok {
		return core.Run{}, core.ErrRunNotFound
	}
	return run, nil
}

func (s *MemoryStore) Running(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, run := range s.runs {
		if run.Status == core.RunStatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Complete(ctx context.Context, accountID, runID, result string) error {
	return s.transition(accountID, runID, func(run *core.Run) {
		run.Status = core.RunStatusCompleted
		run.Result = result
	})
}

func (s *MemoryStore) Fail(ctx context.Context, accountID, runID, reason string) error {
	return s.transition(accountID, runID, func(run *core.Run) {
		run.Status = core.RunStatusFailed
		run.Error = reason
	})
}

func (s *MemoryStore) transition(accountID, runID string, apply func(*core.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[accountID]
	switch {
	case !ok:
		return core.ErrRunNotFound
	case run.RunID != runID:
		return core.ErrRunSuperseded
	case run.Status != core.RunStatusRunning:
		return core.ErrRunNotRunning
	}
	apply(&run)
	run.UpdatedAt = s.now()
	s.runs[accountID] = run
	return nil
}

// Untrack is a no-op: the memory store derives Running from the records
func (s *MemoryStore) Untrack(ctx context.Context, accountID string) error {
	return nil
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.keys[key]
	return ok && entry.alive(s.now()), nil
}

func (s *MemoryStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := expiring{value: "1"}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.keys[key] = entry
	return nil
}
