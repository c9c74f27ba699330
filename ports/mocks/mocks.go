// Package mocks holds testify mocks for the ports interfaces.
package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
	"github.com/stretchr/testify/mock"
)

var (
	_ ports.Verifier           = (*MockVerifier)(nil)
	_ ports.AgentClient        = (*MockAgentClient)(nil)
	_ ports.AgentClientFactory = (*MockAgentClientFactory)(nil)
	_ ports.Ledger             = (*MockLedger)(nil)
	_ ports.EventPublisher     = (*MockEventPublisher)(nil)
	_ ports.KeyAuthority       = (*MockKeyAuthority)(nil)
	_ ports.Deduper            = (*MockDeduper)(nil)
)

type MockVerifier struct{ mock.Mock }

func NewMockVerifier(t *testing.T) *MockVerifier {
	m := &MockVerifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockVerifier) Authenticate(ctx context.Context, assertion core.Assertion) bool {
	args := m.Called(ctx, assertion)
	return args.Bool(0)
}

type MockAgentClient struct{ mock.Mock }

func NewMockAgentClient(t *testing.T) *MockAgentClient {
	m := &MockAgentClient{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAgentClient) StartRun(ctx context.Context, question string) (core.RunHandle, error) {
	args := m.Called(ctx, question)
	return args.Get(0).(core.RunHandle), args.Error(1)
}

func (m *MockAgentClient) RunState(ctx context.Context, handle core.RunHandle) (core.AgentRunState, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(core.AgentRunState), args.Error(1)
}

func (m *MockAgentClient) LatestReply(ctx context.Context, threadID string) (string, error) {
	args := m.Called(ctx, threadID)
	return args.String(0), args.Error(1)
}

type MockAgentClientFactory struct{ mock.Mock }

func NewMockAgentClientFactory(t *testing.T) *MockAgentClientFactory {
	m := &MockAgentClientFactory{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAgentClientFactory) ForCredential(credential string) (ports.AgentClient, error) {
	args := m.Called(credential)
	client, _ := args.Get(0).(ports.AgentClient)
	return client, args.Error(1)
}

type MockLedger struct{ mock.Mock }

func NewMockLedger(t *testing.T) *MockLedger {
	m := &MockLedger{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockLedger) NotifyInitiated(ctx context.Context, accountID, threadID, runID string) error {
	return m.Called(ctx, accountID, threadID, runID).Error(0)
}

func (m *MockLedger) NotifyFinished(ctx context.Context, accountID, threadID, runID, result string) error {
	return m.Called(ctx, accountID, threadID, runID, result).Error(0)
}

type MockEventPublisher struct{ mock.Mock }

func NewMockEventPublisher(t *testing.T) *MockEventPublisher {
	m := &MockEventPublisher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockEventPublisher) PublishRun(ctx context.Context, run core.Run) error {
	return m.Called(ctx, run).Error(0)
}

type MockKeyAuthority struct{ mock.Mock }

func NewMockKeyAuthority(t *testing.T) *MockKeyAuthority {
	m := &MockKeyAuthority{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockKeyAuthority) AccessKeys(ctx context.Context, accountID string) ([]core.AccessKey, error) {
	args := m.Called(ctx, accountID)
	keys, _ := args.Get(0).([]core.AccessKey)
	return keys, args.Error(1)
}

type MockDeduper struct{ mock.Mock }

func NewMockDeduper(t *testing.T) *MockDeduper {
	m := &MockDeduper{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDeduper) Seen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduper) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return m.Called(ctx, key, ttl).Error(0)
}
