package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/agentrelay/adapters/store"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports/mocks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *fixture) ask(t *testing.T, handle core.RunHandle) {
	t.Helper()
	f.client.On("StartRun", mock.Anything, "hello").Return(handle, nil).Once()
	f.ledger.On("NotifyInitiated", mock.Anything, "alice.test", handle.ThreadID, handle.RunID).Return(nil).Once()
	_, err := f.service.Ask(context.Background(), "alice.test", "hello")
	require.NoError(t, err)
}

func TestPollerCompletesRun(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, handle)

	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunInProgress, nil).Twice()
	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunCompleted, nil).Once()
	f.client.On("LatestReply", mock.Anything, "t1").Return("hi there", nil).Once()
	f.ledger.On("NotifyFinished", mock.Anything, "alice.test", "t1", "r1", "hi there").Return(nil).Once()

	for i := 0; i < 2; i++ {
		f.poller.Tick(ctx)
		run, err := f.service.Result(ctx, "alice.test")
		require.NoError(t, err)
		assert.Equal(t, core.RunStatusRunning, run.Status)
	}

	f.poller.Tick(ctx)
	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Equal(t, "hi there", run.Result)

	// completed runs are no longer polled
	f.poller.Tick(ctx)
	f.ledger.AssertNumberOfCalls(t, "NotifyFinished", 1)
	f.client.AssertNumberOfCalls(t, "RunState", 3)
}

func TestPollerLeavesRunningRunsPending(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, handle)
	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunState("running"), nil)

	for i := 0; i < 5; i++ {
		f.poller.Tick(ctx)
	}
	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, run.Status)
	f.ledger.AssertNotCalled(t, "NotifyFinished", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPollerMarksFailedRuns(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, handle)
	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunCancelled, nil).Once()

	f.poller.Tick(ctx)
	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, "run cancelled", run.Error)
}

func TestPollerTimesOutOldRuns(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, core.RunHandle{ThreadID: "t1", RunID: "r1"})

	poller := NewPoller(f.store, f.factory, f.ledger, nil, zap.NewNop(), PollerConfig{MaxRunAge: time.Minute})
	poller.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	poller.Tick(ctx)

	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, "run timed out", run.Error)
}

func TestPollerObservesOnlyLatestRun(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	first := core.RunHandle{ThreadID: "t1", RunID: "r1"}
	second := core.RunHandle{ThreadID: "t2", RunID: "r2"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, first)
	f.ask(t, second)

	f.client.On("RunState", mock.Anything, second).Return(core.AgentRunCompleted, nil).Once()
	f.client.On("LatestReply", mock.Anything, "t2").Return("second answer", nil).Once()
	f.ledger.On("NotifyFinished", mock.Anything, "alice.test", "t2", "r2", "second answer").Return(nil).Once()

	f.poller.Tick(ctx)

	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, "r2", run.RunID)
	assert.Equal(t, "second answer", run.Result)
	f.client.AssertNotCalled(t, "RunState", mock.Anything, first)
}

func TestPollerKeepsRunWhenLedgerFails(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, handle)

	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunCompleted, nil).Twice()
	f.client.On("LatestReply", mock.Anything, "t1").Return("hi there", nil).Twice()
	f.ledger.On("NotifyFinished", mock.Anything, "alice.test", "t1", "r1", "hi there").Return(core.ErrLedgerUnavailable).Once()
	f.ledger.On("NotifyFinished", mock.Anything, "alice.test", "t1", "r1", "hi there").Return(nil).Once()

	f.poller.Tick(ctx)
	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, run.Status)

	f.poller.Tick(ctx)
	run, err = f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
}

func TestPollerIsolatesFailuresPerRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob := mocks.NewMockAgentClient(t)
	require.NoError(t, f.store.Upsert(ctx, core.Run{AccountID: "alice.test", ThreadID: "t1", RunID: "r1", Status: core.RunStatusRunning, Credential: "a"}))
	require.NoError(t, f.store.Upsert(ctx, core.Run{AccountID: "bob.test", ThreadID: "t2", RunID: "r2", Status: core.RunStatusRunning, Credential: "b"}))

	f.factory.On("ForCredential", "a").Return(f.client, nil)
	f.factory.On("ForCredential", "b").Return(bob, nil)
	f.client.On("RunState", mock.Anything, core.RunHandle{ThreadID: "t1", RunID: "r1"}).Return(core.AgentRunState(""), core.ErrAgentUnavailable)
	bob.On("RunState", mock.Anything, core.RunHandle{ThreadID: "t2", RunID: "r2"}).Return(core.AgentRunCompleted, nil)
	bob.On("LatestReply", mock.Anything, "t2").Return("", nil)
	f.ledger.On("NotifyFinished", mock.Anything, "bob.test", "t2", "r2", "").Return(nil)

	f.poller.Tick(ctx)

	run, err := f.store.Get(ctx, "bob.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Empty(t, run.Result)
}

func TestPollerStartStop(t *testing.T) {
	f := newFixture(t)
	poller := NewPoller(f.store, f.factory, f.ledger, nil, zap.NewNop(), PollerConfig{Interval: time.Millisecond})

	poller.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	poller.Stop()
	poller.Stop()
}

func TestPollerSkipsOverlappingTick(t *testing.T) {
	f := newFixture(t)
	f.poller.ticking.Store(true)
	// no registry access and no mock calls expected
	f.poller.Tick(context.Background())
	f.poller.ticking.Store(false)
}

func TestPollerUntracksMissingRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	runs := store.NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, runs.Upsert(ctx, core.Run{AccountID: "alice.test", ThreadID: "t1", RunID: "r1", Status: core.RunStatusRunning}))
	require.NoError(t, client.Del(ctx, "agent:alice.test").Err())

	poller := NewPoller(runs, mocks.NewMockAgentClientFactory(t), mocks.NewMockLedger(t), nil, zap.NewNop(), PollerConfig{})
	poller.Tick(ctx)

	running, err := runs.Running(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestPollSharesConcurrentCallsForAccount(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}

	f.factory.On("ForCredential", aliceRaw).Return(f.client, nil)
	f.ask(t, handle)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunCompleted, nil).Run(func(mock.Arguments) {
		entered <- struct{}{}
		<-release
	})
	f.client.On("LatestReply", mock.Anything, "t1").Return("hi there", nil)
	f.ledger.On("NotifyFinished", mock.Anything, "alice.test", "t1", "r1", "hi there").Return(nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	poll := func() {
		defer wg.Done()
		errs <- f.poller.Poll(ctx, "alice.test")
	}

	wg.Add(1)
	go poll()
	<-entered
	wg.Add(1)
	go poll()
	// the second call joins the first instead of reaching the agent
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	f.client.AssertNumberOfCalls(t, "RunState", 1)
	f.ledger.AssertNumberOfCalls(t, "NotifyFinished", 1)

	run, err := f.service.Result(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
}

type renewFunc func(string) (string, error)

func (f renewFunc) Renew(credential string) (string, error) { return f(credential) }

func TestPollerRenewsStoredCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handle := core.RunHandle{ThreadID: "t1", RunID: "r1"}
	require.NoError(t, f.store.Upsert(ctx, core.Run{AccountID: "alice.test", ThreadID: "t1", RunID: "r1", Status: core.RunStatusRunning, Credential: "expired-token"}))

	f.poller.SetRenewer(renewFunc(func(credential string) (string, error) {
		assert.Equal(t, "expired-token", credential)
		return "fresh-token", nil
	}))
	f.factory.On("ForCredential", "fresh-token").Return(f.client, nil)
	f.client.On("RunState", mock.Anything, handle).Return(core.AgentRunInProgress, nil).Once()

	f.poller.Tick(ctx)
	f.factory.AssertNotCalled(t, "ForCredential", "expired-token")
}
