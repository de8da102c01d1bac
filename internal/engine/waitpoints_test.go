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
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualWaitpointResolvesExactlyOnce(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	started := te.startNext(t)

	created, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env, IdempotencyKey: "approval-1"})
	require.NoError(t, err)
	cached, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env, IdempotencyKey: "approval-1"})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, created.Waitpoint.ID, cached.Waitpoint.ID)

	blocked, err := te.WaitForWaitpoint(ctx, BlockRequest{
		RunID:        r.ID,
		SnapshotID:   started.Snapshot.ID,
		WaitpointIDs: []uint64{created.Waitpoint.ID},
	})
	require.NoError(t, err)
	assert.True(t, blocked.Blocked)
	assert.Equal(t, run.StatusExecutingWaiting, blocked.Snapshot.Status)

	// 阻塞期间没有可出队的条目
	assert.Empty(t, te.dequeue(t))

	outputs := []string{`"approved"`, `"rejected"`}
	results := make([]error, len(outputs))
	var wg sync.WaitGroup
	for i, out := range outputs {
		wg.Add(1)
		go func(i int, out string) {
			defer wg.Done()
			_, results[i] = te.ResolveWaitpoint(ctx, created.Waitpoint.ID, waitpoint.Output{Value: out})
		}(i, out)
	}
	wg.Wait()

	winners := lo.Filter([]int{0, 1}, func(i int, _ int) bool { return results[i] == nil })
	require.Len(t, winners, 1, spew.Sdump(results))
	loser := 1 - winners[0]
	assert.ErrorIs(t, results[loser], errs.ErrWaitpointAlreadyCompleted)

	d := te.dequeueOne(t)
	assert.Equal(t, run.EventResumed, d.Snapshot.Event)
	require.Len(t, d.CompletedWaitpoints, 1)
	assert.Equal(t, outputs[winners[0]], d.CompletedWaitpoints[0].Output)
	assert.Empty(t, te.dequeue(t))

	events := te.events(t, r.ID)
	assert.Equal(t, 1, lo.Count(events, run.EventWaitpointsResolved))

	res, err := te.CompleteRunAttempt(ctx, r.ID, d.Snapshot.ID, Completion{OK: true})
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, res.Run.Status)
}

func TestWaitOnCompletedWaitpointDoesNotBlock(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	started := te.startNext(t)

	created, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env})
	require.NoError(t, err)
	_, err = te.ResolveWaitpoint(ctx, created.Waitpoint.ID, waitpoint.Output{Value: "1"})
	require.NoError(t, err)

	res, err := te.WaitForWaitpoint(ctx, BlockRequest{RunID: r.ID, SnapshotID: started.Snapshot.ID, WaitpointIDs: []uint64{created.Waitpoint.ID}})
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	require.Len(t, res.CompletedWaitpoints, 1)
	assert.Equal(t, "1", res.CompletedWaitpoints[0].Output)

	got, err := te.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusExecuting, got.Status)
}

func TestWaitpointFromOtherEnvironmentIsRejected(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	te.startNext(t)
	created, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: "env_other"})
	require.NoError(t, err)

	_, err = te.WaitForWaitpoint(ctx, BlockRequest{RunID: r.ID, WaitpointIDs: []uint64{created.Waitpoint.ID}})
	assert.ErrorIs(t, err, errs.ErrWaitpointNotFound)
}

func triggerAndWaitChild(t *testing.T, te *testEngine, queueName string) (parent, child *run.TaskRun) {
	t.Helper()
	parent = te.trigger(t, TriggerRequest{TaskIdentifier: "parent", Queue: queueName})
	te.startNext(t)

	res, err := te.Trigger(context.Background(), TriggerRequest{
		EnvironmentID:            env,
		TaskIdentifier:           "child",
		Queue:                    queueName,
		ParentRunID:              parent.ID,
		ResumeParentOnCompletion: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Waitpoint)
	assert.Equal(t, waitpoint.TypeRun, res.Waitpoint.Type)

	got, err := te.GetRun(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Equal(t, run.StatusExecutingWaiting, got.Status)
	return parent, res.Run
}

func TestParentHoldingSlotStarvesChild(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.queues.Upsert(ctx, &queue.UpsertRequest{
		EnvironmentID:    env,
		Name:             "shared",
		ConcurrencyLimit: mo.Some(1),
	}, 10)
	require.NoError(t, err)

	parent, _ := triggerAndWaitChild(t, te, "shared")
	snap, err := te.GetLatestSnapshot(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, snap.ConcurrencyReleased)

	// 父 run 仍占用唯一的并发槽位，子 run 无法出队
	assert.Empty(t, te.dequeue(t))
	running, err := te.queue.RunningCount(ctx, env, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(1), running)
}

func TestReleasingConcurrencyLetsChildRunAndResumesParent(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.queues.Upsert(ctx, &queue.UpsertRequest{
		EnvironmentID:                 env,
		Name:                          "shared",
		ConcurrencyLimit:              mo.Some(1),
		ReleaseConcurrencyOnWaitpoint: mo.Some(true),
	}, 10)
	require.NoError(t, err)

	parent, child := triggerAndWaitChild(t, te, "shared")
	snap, err := te.GetLatestSnapshot(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, snap.ConcurrencyReleased)

	d := te.dequeueOne(t)
	require.Equal(t, child.ID, d.Run.ID)
	started, err := te.StartRunAttempt(ctx, child.ID, d.Snapshot.ID)
	require.NoError(t, err)
	_, err = te.CompleteRunAttempt(ctx, child.ID, started.Snapshot.ID, Completion{OK: true, Output: []byte(`{"rows":3}`)})
	require.NoError(t, err)

	resumed := te.dequeueOne(t)
	require.Equal(t, parent.ID, resumed.Run.ID)
	assert.Equal(t, run.EventResumed, resumed.Snapshot.Event)
	require.Len(t, resumed.CompletedWaitpoints, 1)
	assert.JSONEq(t, `{"rows":3}`, resumed.CompletedWaitpoints[0].Output)
	assert.Equal(t, child.ID, resumed.CompletedWaitpoints[0].CompletedBy)
	assert.Equal(t, 1, resumed.Run.AttemptNumber)
}

func TestFailedChildResumesParentWithError(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.queues.Upsert(ctx, &queue.UpsertRequest{
		EnvironmentID:                 env,
		Name:                          "jobs",
		ReleaseConcurrencyOnWaitpoint: mo.Some(true),
	}, 10)
	require.NoError(t, err)

	parent, child := triggerAndWaitChild(t, te, "jobs")
	_, err = te.CancelRun(ctx, child.ID, "no longer needed")
	require.NoError(t, err)

	resumed := te.dequeueOne(t)
	require.Equal(t, parent.ID, resumed.Run.ID)
	require.Len(t, resumed.CompletedWaitpoints, 1)
	assert.True(t, resumed.CompletedWaitpoints[0].OutputIsError)
	assert.Contains(t, resumed.CompletedWaitpoints[0].Output, "no longer needed")
}

func TestDateTimeWaitpointResolvedBySweep(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	started := te.startNext(t)

	at := te.clock.Now().Add(10 * time.Second)
	created, err := te.CreateDateTimeWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env, CompletedAfter: &at})
	require.NoError(t, err)
	_, err = te.WaitForWaitpoint(ctx, BlockRequest{RunID: r.ID, SnapshotID: started.Snapshot.ID, WaitpointIDs: []uint64{created.Waitpoint.ID}})
	require.NoError(t, err)

	n, err := te.SweepWaitpoints(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, te.dequeue(t))

	te.clock.Advance(10 * time.Second)
	n, err = te.SweepWaitpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := te.dequeueOne(t)
	assert.Equal(t, r.ID, d.Run.ID)
	assert.Equal(t, run.EventResumed, d.Snapshot.Event)
}

func TestManualWaitpointTimesOut(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	timeout := te.clock.Now().Add(time.Minute)
	created, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env, CompletedAfter: &timeout})
	require.NoError(t, err)

	te.clock.Advance(time.Minute)
	_, err = te.SweepWaitpoints(ctx)
	require.NoError(t, err)

	wp, err := te.GetWaitpoint(ctx, created.Waitpoint.ID)
	require.NoError(t, err)
	assert.True(t, wp.IsCompleted())
	assert.True(t, wp.OutputIsError)

	_, err = te.ResolveWaitpoint(ctx, wp.ID, waitpoint.Output{Value: "late"})
	assert.True(t, errors.Is(err, errs.ErrWaitpointAlreadyCompleted))
}

func TestPastDateTimeWaitpointCompletesImmediately(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	at := te.clock.Now().Add(-time.Second)
	created, err := te.CreateDateTimeWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env, CompletedAfter: &at})
	require.NoError(t, err)
	assert.True(t, created.Waitpoint.IsCompleted())

	_, err = te.CreateDateTimeWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env})
	var validation *errs.ServiceValidationError
	assert.ErrorAs(t, err, &validation)
}
