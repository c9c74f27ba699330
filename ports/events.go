package ports

import (
	"context"

	"github.com/layer-3/agentrelay/core"
)

// EventPublisher announces run lifecycle changes to other consumers
type EventPublisher interface {
	PublishRun(ctx context.Context, run core.Run) error
}
