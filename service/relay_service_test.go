package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/layer-3/agentrelay/adapters/agent"
	"github.com/layer-3/agentrelay/adapters/store"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const aliceRaw = `{"accountId":"alice.test","publicKey":"ed25519:abc","signature":"c2ln","message":"Login to NEAR AI","nonce":"00000000000000000000000000000001","recipient":"near-ai-backend"}`

var alice = core.Assertion{
	AccountID: "alice.test",
	PublicKey: "ed25519:abc",
	Signature: "c2ln",
	Message:   "Login to NEAR AI",
	Nonce:     "00000000000000000000000000000001",
	Recipient: "near-ai-backend",
}

type fixture struct {
	store    *store.MemoryStore
	verifier *mocks.MockVerifier
	factory  *mocks.MockAgentClientFactory
	client   *mocks.MockAgentClient
	ledger   *mocks.MockLedger
	service  *RelayService
	poller   *Poller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		verifier: mocks.NewMockVerifier(t),
		factory:  mocks.NewMockAgentClientFactory(t),
		client:   mocks.NewMockAgentClient(t),
		ledger:   mocks.NewMockLedger(t),
	}
	f.service = NewRelayService(Deps{
		Verifier:    f.verifier,
		Sessions:    f.store,
		Runs:        f.store,
		Agents:      f.factory,
		Credentials: agent.AssertionCredentials{},
		Ledger:      f.ledger,
		Logger:      zap.NewNop(),
	}, time.Hour)
	f.poller = NewPoller(f.store, f.factory, f.ledger, nil, zap.NewNop(), PollerConfig{})
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.verifier.On("Authenticate", mock.Anything, alice).Return(true).Once()
	require.NoError(t, f.service.StoreSession(context.Background(), aliceRaw, alice))
}

func TestStoreSessionRejectsInvalidAssertion(t *testing.T) {
	f := newFixture(t)
	f.verifier.On("Authenticate", mock.Anything, alice).Return(false)

	err := f.service.StoreSession(context.Background(), aliceRaw, alice)
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)

	_, err = f.store.GetSession(context.Background(), "alice.test")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStoreSessionKeepsRawAssertion(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	session, err := f.store.GetSession(context.Background(), "alice.test")
	require.NoError(t, err)
	assert.Equal(t, aliceRaw, session.Raw)
	assert.Equal(t, alice, session.Assertion)
}

func TestAskWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ask(context.Background(), "alice.test", "hello")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestAskRegistersRunAndNotifiesLedger(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.client.On("StartRun", mock.Anything, "hello").Return(core.RunHandle{ThreadID: "t1", RunID: "r1"}, nil)
	f.ledger.On("NotifyInitiated", mock.Anything, "alice.test", "t1", "r1").Return(nil).Once()

	handle, err := f.service.Ask(ctx, "alice.test", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.RunHandle{ThreadID: "t1", RunID: "r1"}, handle)

	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, run.Status)
	assert.Equal(t, "t1", run.ThreadID)
	assert.Equal(t, aliceRaw, run.Credential)
	assert.Empty(t, run.Result)
}

func TestAskAgentFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.client.On("StartRun", mock.Anything, "hello").Return(core.RunHandle{}, core.ErrAgentUnavailable)

	_, err := f.service.Ask(ctx, "alice.test", "hello")
	assert.ErrorIs(t, err, core.ErrAgentUnavailable)

	_, err = f.service.Result(ctx, "alice.test")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestAskLedgerFailureLeavesPollableRun(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.client.On("StartRun", mock.Anything, "hello").Return(core.RunHandle{ThreadID: "t1", RunID: "r1"}, nil)
	f.ledger.On("NotifyInitiated", mock.Anything, "alice.test", "t1", "r1").Return(core.ErrLedgerUnavailable)

	handle, err := f.service.Ask(ctx, "alice.test", "hello")
	assert.ErrorIs(t, err, core.ErrLedgerUnavailable)
	assert.Equal(t, "r1", handle.RunID)

	running, err := f.store.Running(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.test"}, running)
}

func TestAskPublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	events := mocks.NewMockEventPublisher(t)
	f.service.events = events

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.client.On("StartRun", mock.Anything, "hello").Return(core.RunHandle{ThreadID: "t1", RunID: "r1"}, nil)
	f.ledger.On("NotifyInitiated", mock.Anything, "alice.test", "t1", "r1").Return(nil)
	events.On("PublishRun", mock.Anything, mock.MatchedBy(func(run core.Run) bool {
		return run.RunID == "r1" && run.Status == core.RunStatusRunning
	})).Return(errors.New("stream down"))

	_, err := f.service.Ask(context.Background(), "alice.test", "hello")
	require.NoError(t, err, "publish failures must not fail the ask")
}
