package ports

import (
	"context"

	"github.com/layer-3/agentrelay/core"
)

// AgentClient talks to the thread/run based agent service on behalf of one caller
type AgentClient interface {
	StartRun(ctx context.Context, question string) (core.RunHandle, error)
	RunState(ctx context.Context, handle core.RunHandle) (core.AgentRunState, error)
	LatestReply(ctx context.Context, threadID string) (string, error)
}

// AgentClientFactory builds an AgentClient bound to a bearer credential
type AgentClientFactory interface {
	ForCredential(credential string) (AgentClient, error)
}
