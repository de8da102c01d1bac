package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/biz/workerinstance"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/fairqueue"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/infra/persistence/queuerepo"
	"github.com/jobs/runengine/internal/infra/persistence/runrepo"
	"github.com/jobs/runengine/internal/infra/persistence/taskrepo"
	"github.com/jobs/runengine/internal/infra/persistence/waitpointrepo"
	"github.com/jobs/runengine/internal/infra/persistence/workerrepo"
	"github.com/jobs/runengine/internal/orm"
	"github.com/jobs/runengine/internal/ratelimit"
	"github.com/jobs/runengine/internal/retry"
	"github.com/jobs/runengine/internal/runlock"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const env = "env_test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEngine struct {
	*Engine
	clock *fakeClock
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	storage, err := orm.NewMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	db := orm.ProvideDB(storage)

	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
	cfg := config.Default()
	cfg.Engine.VisibilityTimeout = time.Minute
	cfg.Engine.WorkerStaleAfter = time.Minute

	bus := eventbus.NewMemoryBus("test")
	queueRepo := queuerepo.NewMysqlRepositoryImpl(db)
	defs := queue.NewCache(queueRepo, bus, cfg.RunQueue)
	rq := runqueue.NewRunQueue(
		runqueue.NewMemoryStore(),
		ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock.Now)),
		defs,
		fairqueue.NewManager(),
		cfg.RunQueue,
		zap.NewNop(),
		runqueue.WithClock(clock.Now),
	)
	locker := runlock.NewLocker(runlock.NewMemoryBackend(), runlock.Config{
		TTL:            5 * time.Second,
		AcquireTimeout: 5 * time.Second,
	}, zap.NewNop())

	e := New(cfg, zap.NewNop(),
		runrepo.NewMysqlRepositoryImpl(db),
		waitpointrepo.NewMysqlRepositoryImpl(db),
		commonrepo.NewTransaction(db),
		rq,
		defs,
		queue.NewUsecase(queueRepo, bus),
		task.NewUsecase(taskrepo.NewMysqlRepositoryImpl(db)),
		workerinstance.NewUsecase(workerrepo.NewMysqlRepositoryImpl(db)),
		locker,
		bus,
		WithClock(clock.Now),
	)
	return &testEngine{Engine: e, clock: clock}
}

func (te *testEngine) trigger(t *testing.T, req TriggerRequest) *run.TaskRun {
	t.Helper()
	if req.EnvironmentID == "" {
		req.EnvironmentID = env
	}
	if req.TaskIdentifier == "" {
		req.TaskIdentifier = "email.send"
	}
	res, err := te.Trigger(context.Background(), req)
	require.NoError(t, err)
	return res.Run
}

func (te *testEngine) dequeue(t *testing.T) []DequeuedRun {
	t.Helper()
	runs, err := te.Dequeue(context.Background(), DequeueRequest{
		ConsumerID:       "consumer_1",
		EnvironmentID:    env,
		WorkerInstanceID: "worker_1",
		RunnerID:         "runner_1",
		MaxRuns:          10,
	})
	require.NoError(t, err)
	return runs
}

func (te *testEngine) dequeueOne(t *testing.T) DequeuedRun {
	t.Helper()
	runs := te.dequeue(t)
	require.Len(t, runs, 1, spew.Sdump(runs))
	return runs[0]
}

// startNext 出队并开始 attempt
func (te *testEngine) startNext(t *testing.T) *StartResult {
	t.Helper()
	d := te.dequeueOne(t)
	started, err := te.StartRunAttempt(context.Background(), d.Run.ID, d.Snapshot.ID)
	require.NoError(t, err)
	return started
}

func (te *testEngine) events(t *testing.T, runID uint64) []run.SnapshotEvent {
	t.Helper()
	snaps, err := te.ListSnapshots(context.Background(), runID)
	require.NoError(t, err)
	for i, s := range snaps {
		require.Equal(t, i+1, s.Version, spew.Sdump(snaps))
	}
	return lo.Map(snaps, func(s *run.Snapshot, _ int) run.SnapshotEvent { return s.Event })
}

func TestRunLifecycle(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{Payload: []byte(`{"to":"a@b.c"}`)})
	assert.Equal(t, run.StatusPending, r.Status)
	assert.Equal(t, "task/email.send", r.QueueName)

	started := te.startNext(t)
	assert.Equal(t, 1, started.Run.AttemptNumber)
	assert.Equal(t, "worker_1", started.Run.WorkerInstanceID)
	assert.Equal(t, "runner_1", started.Snapshot.RunnerID)

	snap, err := te.HeartbeatRun(ctx, r.ID, started.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, started.Snapshot.ID, snap.ID)

	res, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{OK: true, Output: []byte(`{"sent":true}`)})
	require.NoError(t, err)
	assert.Equal(t, AttemptRunFinished, res.AttemptStatus)

	got, err := te.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"sent":true}`, string(got.Output))
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.HeartbeatDeadline)

	assert.Equal(t, []run.SnapshotEvent{
		run.EventCreated, run.EventDequeued, run.EventAttemptStarted, run.EventCompleted,
	}, te.events(t, r.ID))

	running, err := te.queue.RunningCount(ctx, env, r.QueueName)
	require.NoError(t, err)
	assert.Zero(t, running)
	_, err = te.queue.Get(ctx, r.ID)
	assert.True(t, runqueue.IsNotFound(err))

	_, err = te.CompleteRunAttempt(ctx, r.ID, res.Snapshot.ID, Completion{OK: true})
	assert.ErrorIs(t, err, errs.ErrRunFinished)
}

func TestStartRequiresLatestSnapshot(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.trigger(t, TriggerRequest{})
	d := te.dequeueOne(t)

	_, err := te.StartRunAttempt(ctx, d.Run.ID, d.Snapshot.ID+1)
	assert.ErrorIs(t, err, errs.ErrStaleSnapshot)

	started, err := te.StartRunAttempt(ctx, d.Run.ID, d.Snapshot.ID)
	require.NoError(t, err)

	// 同一个出队快照不能开始两次
	_, err = te.StartRunAttempt(ctx, d.Run.ID, d.Snapshot.ID)
	assert.ErrorIs(t, err, errs.ErrStaleSnapshot)
	_, err = te.StartRunAttempt(ctx, d.Run.ID, started.Snapshot.ID)
	var validation *errs.ServiceValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestRetryWithBackoff(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{Retry: &retry.Config{
		MaxAttempts:    3,
		MinTimeoutInMs: 1000,
		MaxTimeoutInMs: 10000,
		Factor:         2,
	}})
	assert.Equal(t, 3, r.MaxAttempts)

	failure := Completion{Error: &run.RunError{Type: run.ErrorTypeBuilt, Name: "Error", Message: "boom"}}
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second} {
		started := te.startNext(t)
		require.Equal(t, attempt+1, started.Run.AttemptNumber)

		res, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, failure)
		require.NoError(t, err)
		assert.Equal(t, AttemptRetryQueued, res.AttemptStatus)
		assert.Equal(t, want, res.RetryDelay)
		assert.Equal(t, run.StatusPending, res.Run.Status)

		// 退避期间不可出队
		assert.Empty(t, te.dequeue(t))
		te.clock.Advance(want)
	}

	started := te.startNext(t)
	require.Equal(t, 3, started.Run.AttemptNumber)
	res, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, failure)
	require.NoError(t, err)
	assert.Equal(t, AttemptRunFinished, res.AttemptStatus)
	assert.Equal(t, run.StatusFailed, res.Run.Status)
	assert.Equal(t, "boom", res.Run.Error.Message)
}

func TestCrashFinishesWithoutRetry(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{MaxAttempts: 1})
	started := te.startNext(t)
	res, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{
		Error: &run.RunError{Type: run.ErrorTypeCrash, Message: "process exited with code 137"},
	})
	require.NoError(t, err)
	assert.Equal(t, run.StatusCrashed, res.Run.Status)

	r2 := te.trigger(t, TriggerRequest{MaxAttempts: 5})
	started = te.startNext(t)
	res, err = te.CompleteRunAttempt(ctx, r2.ID, started.Snapshot.ID, Completion{
		Error:        &run.RunError{Type: run.ErrorTypeString, Message: "bad input"},
		SkipRetrying: true,
	})
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, res.Run.Status)
	assert.Equal(t, 1, res.Run.AttemptNumber)
}

func TestCancelPendingRun(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	canceled, err := te.CancelRun(ctx, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCanceled, canceled.Status)
	assert.Empty(t, canceled.ActiveIdempotencyKey)

	assert.Empty(t, te.dequeue(t))
	depth, err := te.queue.GetQueueDepth(ctx, env, r.QueueName)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// 重复取消不报错
	again, err := te.CancelRun(ctx, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCanceled, again.Status)
}

func TestCancelExecutingRunIsCooperative(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	started := te.startNext(t)

	notified, stop := eventbus.Notify(te.bus, func(ev eventbus.Event) bool {
		return ev.Type == eventbus.EventRunCancelled && ev.RunID == r.ID
	})
	defer stop()

	canceled, err := te.CancelRun(ctx, r.ID, "user requested")
	require.NoError(t, err)
	assert.Equal(t, run.StatusPendingCancel, canceled.Status)
	select {
	case <-notified:
	default:
		t.Fatal("run_cancelled was not published")
	}

	// worker 通过心跳发现取消
	snap, err := te.HeartbeatRun(ctx, r.ID, started.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPendingCancel, snap.Status)

	res, err := te.CompleteRunAttempt(ctx, r.ID, snap.ID, Completion{OK: true})
	require.NoError(t, err)
	assert.Equal(t, AttemptRunCancelled, res.AttemptStatus)
	assert.Equal(t, run.StatusCanceled, res.Run.Status)
	assert.Equal(t, "user requested", res.Run.Error.Message)
}

func TestCancelCascadesToChildren(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	parent := te.trigger(t, TriggerRequest{TaskIdentifier: "parent"})
	te.startNext(t)
	child := te.trigger(t, TriggerRequest{TaskIdentifier: "child", ParentRunID: parent.ID})
	assert.Equal(t, parent.ID, child.RootRunID)

	_, err := te.CancelRun(ctx, parent.ID, "")
	require.NoError(t, err)

	got, err := te.GetRun(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCanceled, got.Status)
}

func TestConcurrentOperationsAreSerialized(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	started := te.startNext(t)
	te.RaceSimulation().Register(r.ID, 200*time.Millisecond)
	defer te.RaceSimulation().Clear(r.ID)

	var (
		wg          sync.WaitGroup
		completeErr error
		cancelErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, completeErr = te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{OK: true})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		_, cancelErr = te.CancelRun(ctx, r.ID, "")
	}()
	wg.Wait()

	require.NoError(t, completeErr)
	require.NoError(t, cancelErr)

	got, err := te.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.Status.IsTerminal(), spew.Sdump(got))

	// 版本连续且只有一个终态快照
	events := te.events(t, r.ID)
	terminal := lo.CountBy(events, func(ev run.SnapshotEvent) bool {
		return ev == run.EventCompleted || ev == run.EventCanceled
	})
	assert.Equal(t, 1, terminal, spew.Sdump(events))
}

func TestConcurrentCompletionsOnlyOneWins(t *testing.T) {
	failure := &run.RunError{Type: run.ErrorTypeBuilt, Name: "Error", Message: "boom"}
	cases := []struct {
		name       string
		completion Completion
		event      run.SnapshotEvent
	}{
		{name: "success", completion: Completion{OK: true}, event: run.EventCompleted},
		{name: "retry", completion: Completion{Error: failure}, event: run.EventRetryScheduled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			te := newTestEngine(t)
			ctx := context.Background()

			r := te.trigger(t, TriggerRequest{Retry: &retry.Config{MaxAttempts: 2, MinTimeoutInMs: 1000}})
			started := te.startNext(t)

			var wg sync.WaitGroup
			results := make([]error, 2)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, results[i] = te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, tc.completion)
				}(i)
			}
			wg.Wait()

			losers := lo.Filter(results, func(err error, _ int) bool { return err != nil })
			require.Len(t, losers, 1, spew.Sdump(results))
			assert.True(t, errors.Is(losers[0], errs.ErrStaleSnapshot) || errors.Is(losers[0], errs.ErrRunFinished), losers[0].Error())

			events := te.events(t, r.ID)
			assert.Equal(t, 1, lo.Count(events, tc.event), spew.Sdump(events))
			got, err := te.GetRun(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.AttemptNumber)
		})
	}
}

func TestDequeueRespectsQueueConcurrency(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.queues.Upsert(ctx, &queue.UpsertRequest{
		EnvironmentID:    env,
		Name:             "limited",
		ConcurrencyLimit: mo.Some(1),
	}, 10)
	require.NoError(t, err)

	first := te.trigger(t, TriggerRequest{Queue: "limited"})
	te.trigger(t, TriggerRequest{Queue: "limited"})

	runs := te.dequeue(t)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].Run.ID)
	assert.Empty(t, te.dequeue(t))

	started, err := te.StartRunAttempt(ctx, first.ID, runs[0].Snapshot.ID)
	require.NoError(t, err)
	_, err = te.CompleteRunAttempt(ctx, first.ID, started.Snapshot.ID, Completion{OK: true})
	require.NoError(t, err)
	assert.Len(t, te.dequeue(t), 1)
}

func TestPriorityOrdersDequeue(t *testing.T) {
	te := newTestEngine(t)

	low := te.trigger(t, TriggerRequest{})
	te.clock.Advance(time.Millisecond)
	high := te.trigger(t, TriggerRequest{Priority: 10})

	runs := te.dequeue(t)
	require.Len(t, runs, 2)
	assert.Equal(t, []uint64{high.ID, low.ID}, lo.Map(runs, func(d DequeuedRun, _ int) uint64 { return d.Run.ID }))
}
