package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the NEAR AI OpenAI-compatible endpoint
const DefaultBaseURL = "https://api.near.ai/v1"

var (
	_ ports.AgentClientFactory = (*Factory)(nil)
	_ ports.AgentClient        = (*Client)(nil)
)

// Factory builds a fresh client per credential; nothing is shared between callers
type Factory struct {
	baseURL     string
	assistantID string
	httpClient  *http.Client
}

// NewFactory creates a client factory for the assistant
func NewFactory(baseURL, assistantID string, timeout time.Duration) *Factory {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Factory{
		baseURL:     baseURL,
		assistantID: assistantID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ForCredential returns a client that authenticates with the given bearer
func (f *Factory) ForCredential(credential string) (ports.AgentClient, error) {
	if credential == "" {
		return nil, errors.New("empty agent credential")
	}
	cfg := openai.DefaultConfig(credential)
	cfg.BaseURL = f.baseURL
	cfg.HTTPClient = f.httpClient

	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		assistantID: f.assistantID,
	}, nil
}

// Client drives threads and runs of one assistant
type Client struct {
	api         *openai.Client
	assistantID string
}

// StartRun opens a thread, posts the question and starts a run. Errors are
// not retried.
func (c *Client) StartRun(ctx context.Context, question string) (core.RunHandle, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return core.RunHandle{}, fmt.Errorf("%w: create thread: %v", core.ErrAgentUnavailable, err)
	}

	_, err = c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: question,
	})
	if err != nil {
		return core.RunHandle{}, fmt.Errorf("%w: append message: %v", core.ErrAgentUnavailable, err)
	}

	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return core.RunHandle{}, fmt.Errorf("%w: create run: %v", core.ErrAgentUnavailable, err)
	}

	return core.RunHandle{ThreadID: thread.ID, RunID: run.ID}, nil
}

// RunState reports the run status as the agent service sees it
func (c *Client) RunState(ctx context.Context, handle core.RunHandle) (core.AgentRunState, error) {
	run, err := c.api.RetrieveRun(ctx, handle.ThreadID, handle.RunID)
	if err != nil {
		return "", fmt.Errorf("%w: retrieve run: %v", core.ErrAgentUnavailable, err)
	}
	return core.AgentRunState(run.Status), nil
}

// LatestReply returns the text of the newest assistant message in the
// thread, or "" when there is none
func (c *Client) LatestReply(ctx context.Context, threadID string) (string, error) {
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: list messages: %v", core.ErrAgentUnavailable, err)
	}

	for _, msg := range list.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		if len(msg.Content) == 0 || msg.Content[0].Type != "text" || msg.Content[0].Text == nil {
			return "", nil
		}
		return msg.Content[0].Text.Value, nil
	}
	return "", nil
}
