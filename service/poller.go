package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultCallTimeout  = 30 * time.Second
)

// PollerConfig tunes the poll loop. A zero MaxRunAge never gives up on a run.
type PollerConfig struct {
	Interval    time.Duration
	CallTimeout time.Duration
	MaxRunAge   time.Duration
}

// Poller moves running runs to a terminal state once the agent reports one
type Poller struct {
	runs   ports.RunRegistry
	agents ports.AgentClientFactory
	ledger ports.Ledger
	events ports.EventPublisher
	logger *zap.Logger
	cfg    PollerConfig
	now    func() time.Time

	renewer ports.CredentialRenewer

	group   singleflight.Group
	ticking atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPoller creates a new poller
func NewPoller(runs ports.RunRegistry, agents ports.AgentClientFactory, ledger ports.Ledger, events ports.EventPublisher, logger *zap.Logger, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Poller{
		runs:   runs,
		agents: agents,
		ledger: ledger,
		events: events,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetRenewer makes the poller refresh a run's stored credential before each
// agent call
func (p *Poller) SetRenewer(renewer ports.CredentialRenewer) {
	p.renewer = renewer
}

// Start launches the poll loop in the background
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop signals the loop to exit and waits for it
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick examines every running run once. A tick that starts while another is
// still in progress is skipped. A failure on one run does not stop the others.
func (p *Poller) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		p.logger.Info("poll tick skipped (overlap)")
		return
	}
	defer p.ticking.Store(false)

	ids, err := p.runs.Running(ctx)
	if err != nil {
		p.logger.Warn("poll tick: failed to list running runs", zap.Error(err))
		return
	}

	for _, accountID := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.Poll(ctx, accountID); err != nil {
			p.logger.Warn("poll failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}
}

// Poll advances the account's run; concurrent calls for one account share
// a single execution
func (p *Poller) Poll(ctx context.Context, accountID string) error {
	_, err, _ := p.group.Do(accountID, func() (interface{}, error) {
		return nil, p.advance(ctx, accountID)
	})
	return err
}

func (p *Poller) advance(ctx context.Context, accountID string) error {
	run, err := p.runs.Get(ctx, accountID)
	if errors.Is(err, core.ErrRunNotFound) {
		return p.runs.Untrack(ctx, accountID)
	}
	if err != nil {
		return err
	}
	if run.Status != core.RunStatusRunning {
		return p.runs.Untrack(ctx, accountID)
	}

	if p.cfg.MaxRunAge > 0 && !run.CreatedAt.IsZero() && p.now().Sub(run.CreatedAt) > p.cfg.MaxRunAge {
		return p.fail(ctx, run, "run timed out")
	}

	credential := run.Credential
	if p.renewer != nil {
		credential, err = p.renewer.Renew(credential)
		if err != nil {
			return fmt.Errorf("failed to renew agent credential: %w", err)
		}
	}

	client, err := p.agents.ForCredential(credential)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrAgentUnavailable, err)
	}

	state, err := p.runState(ctx, client, run)
	if err != nil {
		return err
	}

	switch {
	case state == core.AgentRunCompleted:
		return p.complete(ctx, client, run)
	case state.Failed():
		return p.fail(ctx, run, "run "+string(state))
	default:
		p.logger.Debug("run still pending",
			zap.String("account_id", run.AccountID),
			zap.String("run_id", run.RunID),
			zap.String("state", string(state)))
		return nil
	}
}

func (p *Poller) runState(ctx context.Context, client ports.AgentClient, run core.Run) (core.AgentRunState, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return client.RunState(callCtx, core.RunHandle{ThreadID: run.ThreadID, RunID: run.RunID})
}

func (p *Poller) complete(ctx context.Context, client ports.AgentClient, run core.Run) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	result, err := client.LatestReply(callCtx, run.ThreadID)
	cancel()
	if err != nil {
		return err
	}

	// the registry is only updated once the ledger has confirmed
	if err := p.ledger.NotifyFinished(ctx, run.AccountID, run.ThreadID, run.RunID, result); err != nil {
		return fmt.Errorf("failed to notify ledger: %w", err)
	}

	err = p.runs.Complete(ctx, run.AccountID, run.RunID, result)
	if errors.Is(err, core.ErrRunSuperseded) || errors.Is(err, core.ErrRunNotRunning) {
		p.logger.Info("run finished but record moved on",
			zap.String("account_id", run.AccountID),
			zap.String("run_id", run.RunID),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	run.Status = core.RunStatusCompleted
	run.Result = result
	publish(ctx, p.events, p.logger, run)
	p.logger.Info("run completed",
		zap.String("account_id", run.AccountID),
		zap.String("run_id", run.RunID))
	return nil
}

func (p *Poller) fail(ctx context.Context, run core.Run, reason string) error {
	err := p.runs.Fail(ctx, run.AccountID, run.RunID, reason)
	if errors.Is(err, core.ErrRunSuperseded) || errors.Is(err, core.ErrRunNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}

	run.Status = core.RunStatusFailed
	run.Error = reason
	publish(ctx, p.events, p.logger, run)
	p.logger.Info("run failed",
		zap.String("account_id", run.AccountID),
		zap.String("run_id", run.RunID),
		zap.String("reason", reason))
	return nil
}
