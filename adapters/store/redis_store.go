package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix = "session:"
	runPrefix     = "agent:"
	runningKey    = "agents:running"
	dedupePrefix  = "ledger:"

	// optimistic transaction retries for Complete/Fail
	maxTxRetries = 5
)

var (
	_ ports.SessionStore = (*RedisStore)(nil)
	_ ports.RunRegistry  = (*RedisStore)(nil)
	_ ports.Deduper      = (*RedisStore)(nil)
)

// RedisStore is the Redis implementation of the session store, run registry
// and ledger deduper. Sessions live under session:<account> with a TTL, runs
// are hashes under agent:<account> and the account ids with a running run are
// indexed in the agents:running set.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetSession stores the raw assertion under the account id
func (s *RedisStore) SetSession(ctx context.Context, session core.Session, ttl time.Duration) error {
	raw, err := sessionPayload(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionPrefix+session.AccountID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set session: %v", core.ErrStoreOperation, err)
	}
	return nil
}

// GetSession loads a session
func (s *RedisStore) GetSession(ctx context.Context, accountID string) (core.Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Session{}, core.ErrSessionNotFound
		}
		return core.Session{}, fmt.Errorf("%w: get session: %v", core.ErrStoreOperation, err)
	}
	return decodeSession(accountID, raw)
}

// Upsert replaces the run record of the account
func (s *RedisStore) Upsert(ctx context.Context, run core.Run) error {
	key := runPrefix + run.AccountID
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, runFields(run))
		if run.Status == core.RunStatusRunning {
			pipe.SAdd(ctx, runningKey, run.AccountID)
		} else {
			pipe.SRem(ctx, runningKey, run.AccountID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: upsert run: %v", core.ErrStoreOperation, err)
	}
	return nil
}

// Get loads the run record of the account
func (s *RedisStore) Get(ctx context.Context, accountID string) (core.Run, error) {
	fields, err := s.client.HGetAll(ctx, runPrefix+accountID).Result()
	if err != nil {
		return core.Run{}, fmt.Errorf("%w: get run: %v", core.ErrStoreOperation, err)
	}
	if len(fields) == 0 {
		return core.Run{}, core.ErrRunNotFound
	}
	return parseRun(fields), nil
}

// Running lists the accounts whose run is still running
func (s *RedisStore) Running(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, runningKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list running: %v", core.ErrStoreOperation, err)
	}
	return ids, nil
}

// Complete moves a running run to completed
func (s *RedisStore) Complete(ctx context.Context, accountID, runID, result string) error {
	return s.transition(ctx, accountID, runID, map[string]any{
		"status": string(core.RunStatusCompleted),
		"result": result,
	})
}

// Fail moves a running run to failed
func (s *RedisStore) Fail(ctx context.Context, accountID, runID, reason string) error {
	return s.transition(ctx, accountID, runID, map[string]any{
		"status": string(core.RunStatusFailed),
		"error":  reason,
	})
}

func (s *RedisStore) transition(ctx context.Context, accountID, runID string, update map[string]any) error {
	key := runPrefix + accountID
	update["updatedAt"] = s.now().UTC().Format(time.RFC3339Nano)

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return core.ErrRunNotFound
		}
		current := parseRun(fields)
		if current.RunID != runID {
			return core.ErrRunSuperseded
		}
		if current.Status != core.RunStatusRunning {
			return core.ErrRunNotRunning
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, update)
			pipe.SRem(ctx, runningKey, accountID)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !isDomainError(err) {
			return fmt.Errorf("%w: transition run: %v", core.ErrStoreOperation, err)
		}
		if errors.Is(err, core.ErrRunSuperseded) || errors.Is(err, core.ErrRunNotRunning) {
			// a stale index entry must not keep the run in every poll
			_ = s.Untrack(ctx, accountID)
		}
		return err
	}
	return fmt.Errorf("%w: transition run: too much contention", core.ErrStoreOperation)
}

// Untrack removes the account from the running index when its record is
// gone or no longer running
func (s *RedisStore) Untrack(ctx context.Context, accountID string) error {
	status, err := s.client.HGet(ctx, runPrefix+accountID, "status").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read run status: %v", core.ErrStoreOperation, err)
	}
	if core.RunStatus(status) == core.RunStatusRunning {
		return nil
	}
	if err := s.client.SRem(ctx, runningKey, accountID).Err(); err != nil {
		return fmt.Errorf("%w: untrack run: %v", core.ErrStoreOperation, err)
	}
	return nil
}

// Seen reports whether the idempotency key was marked
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupePrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check key: %v", core.ErrStoreOperation, err)
	}
	return n > 0, nil
}

// Mark records the idempotency key
func (s *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, dedupePrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: mark key: %v", core.ErrStoreOperation, err)
	}
	return nil
}

func isDomainError(err error) bool {
	return errors.Is(err, core.ErrRunNotFound) ||
		errors.Is(err, core.ErrRunSuperseded) ||
		errors.Is(err, core.ErrRunNotRunning)
}

func runFields(run core.Run) map[string]any {
	fields := map[string]any{
		"accountId": run.AccountID,
		"threadId":  run.ThreadID,
		"runId":     run.RunID,
		"status":    string(run.Status),
	}
	if run.Result != "" || run.Status == core.RunStatusCompleted {
		fields["result"] = run.Result
	}
	if run.Error != "" {
		fields["error"] = run.Error
	}
	if run.Credential != "" {
		fields["credential"] = run.Credential
	}
	if !run.CreatedAt.IsZero() {
		fields["createdAt"] = run.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !run.UpdatedAt.IsZero() {
		fields["updatedAt"] = run.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func parseRun(fields map[string]string) core.Run {
	run := core.Run{
		AccountID:  fields["accountId"],
		ThreadID:   fields["threadId"],
		RunID:      fields["runId"],
		Status:     core.RunStatus(fields["status"]),
		Result:     fields["result"],
		Error:      fields["error"],
		Credential: fields["credential"],
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["createdAt"])
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updatedAt"])
	return run
}

func sessionPayload(session core.Session) (string, error) {
	if session.Raw != "" {
		return session.Raw, nil
	}
	raw, err := json.Marshal(session.Assertion)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return string(raw), nil
}

func decodeSession(accountID, raw string) (core.Session, error) {
	var assertion core.Assertion
	if err := json.Unmarshal([]byte(raw), &assertion); err != nil {
		return core.Session{}, fmt.Errorf("%w: decode session: %v", core.ErrStoreOperation, err)
	}
	return core.Session{
		AccountID: accountID,
		Assertion: assertion,
		Raw:       raw,
	}, nil
}
