package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"go.uber.org/zap"
)

// DefaultSessionTTL is how long a verified session is kept
const DefaultSessionTTL = time.Hour

// RelayService authenticates wallet users, starts agent runs on their
// behalf and reports run results
type RelayService struct {
	verifier    ports.Verifier
	sessions    ports.SessionStore
	runs        ports.RunRegistry
	agents      ports.AgentClientFactory
	credentials ports.CredentialSource
	ledger      ports.Ledger
	events      ports.EventPublisher
	logger      *zap.Logger

	sessionTTL time.Duration
	now        func() time.Time
}

// Deps are the collaborators of the relay service
type Deps struct {
	Verifier    ports.Verifier
	Sessions    ports.SessionStore
	Runs        ports.RunRegistry
	Agents      ports.AgentClientFactory
	Credentials ports.CredentialSource
	Ledger      ports.Ledger
	Events      ports.EventPublisher
	Logger      *zap.Logger
}

// NewRelayService creates a new relay service
func NewRelayService(deps Deps, sessionTTL time.Duration) *RelayService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &RelayService{
		verifier:    deps.Verifier,
		sessions:    deps.Sessions,
		runs:        deps.Runs,
		agents:      deps.Agents,
		credentials: deps.Credentials,
		ledger:      deps.Ledger,
		events:      deps.Events,
		logger:      deps.Logger,
		sessionTTL:  sessionTTL,
		now:         time.Now,
	}
}

// StoreSession verifies the assertion and keeps it as the account's session.
// Nothing is written when verification fails.
func (s *RelayService) StoreSession(ctx context.Context, raw string, assertion core.Assertion) error {
	if !s.verifier.Authenticate(ctx, assertion) {
		return core.ErrAuthenticationFailed
	}

	session := core.Session{
		AccountID: assertion.AccountID,
		Assertion: assertion,
		Raw:       raw,
	}
	if err := s.sessions.SetSession(ctx, session, s.sessionTTL); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("session stored", zap.String("account_id", assertion.AccountID))
	return nil
}

// Ask starts an agent run for the account's question. The run replaces any
// earlier run of the account. It is registered before the ledger is
// notified, so a ledger failure leaves a pollable run behind.
func (s *RelayService) Ask(ctx context.Context, accountID, question string) (core.RunHandle, error) {
	session, err := s.sessions.GetSession(ctx, accountID)
	if err != nil {
		return core.RunHandle{}, err
	}

	credential, err := s.credentials.Credential(session)
	if err != nil {
		return core.RunHandle{}, fmt.Errorf("failed to build agent credential: %w", err)
	}
	client, err := s.agents.ForCredential(credential)
	if err != nil {
		return core.RunHandle{}, fmt.Errorf("%w: %v", core.ErrAgentUnavailable, err)
	}

	handle, err := client.StartRun(ctx, question)
	if err != nil {
		return core.RunHandle{}, err
	}

	now := s.now()
	run := core.Run{
		AccountID:  accountID,
		ThreadID:   handle.ThreadID,
		RunID:      handle.RunID,
		Status:     core.RunStatusRunning,
		Credential: credential,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.runs.Upsert(ctx, run); err != nil {
		return core.RunHandle{}, fmt.Errorf("failed to register run: %w", err)
	}
	publish(ctx, s.events, s.logger, run)

	s.logger.Info("agent run started",
		zap.String("account_id", accountID),
		zap.String("thread_id", handle.ThreadID),
		zap.String("run_id", handle.RunID))

	if err := s.ledger.NotifyInitiated(ctx, accountID, handle.ThreadID, handle.RunID); err != nil {
		return handle, fmt.Errorf("failed to notify ledger: %w", err)
	}
	return handle, nil
}

// Result returns the account's latest run, core.ErrRunNotFound if there is none
func (s *RelayService) Result(ctx context.Context, accountID string) (core.Run, error) {
	return s.runs.Get(ctx, accountID)
}

func publish(ctx context.Context, events ports.EventPublisher, logger *zap.Logger, run core.Run) {
	if events == nil {
		return
	}
	if err := events.PublishRun(ctx, run); err != nil {
		logger.Warn("failed to publish run event",
			zap.String("account_id", run.AccountID),
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}
