package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
)

// RunEvent is the payload of a run lifecycle event
type RunEvent struct {
	AccountID string    `json:"account_id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
}

// NewWatermillPublisher creates a new Watermill publisher. Topics are
// <prefix>.run.<status>.
func NewWatermillPublisher(publisher message.Publisher, prefix string) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		prefix:    prefix,
	}
}

// Topic returns the topic a run status is published on
func (p *WatermillPublisher) Topic(status core.RunStatus) string {
	if status == core.RunStatusRunning {
		return p.prefix + ".run.initiated"
	}
	return p.prefix + ".run." + string(status)
}

// PublishRun publishes the run's current state
func (p *WatermillPublisher) PublishRun(ctx context.Context, run core.Run) error {
	event := RunEvent{
		AccountID: run.AccountID,
		ThreadID:  run.ThreadID,
		RunID:     run.RunID,
		Status:    string(run.Status),
		Result:    run.Result,
		Error:     run.Error,
		At:        time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("account_id", run.AccountID)

	if err := p.publisher.Publish(p.Topic(run.Status), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Noop discards events
type Noop struct{}

func (Noop) PublishRun(context.Context, core.Run) error { return nil }
