package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerValidation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	cases := map[string]TriggerRequest{
		"missing task":      {EnvironmentID: env},
		"priority too high": {EnvironmentID: env, TaskIdentifier: "a", Priority: 101},
		"bad payload":       {EnvironmentID: env, TaskIdentifier: "a", Payload: []byte(`{`)},
		"scope needs parent": {
			EnvironmentID:       env,
			TaskIdentifier:      "a",
			IdempotencyKey:      "k",
			IdempotencyKeyScope: run.ScopeRun,
		},
		"resume needs parent": {EnvironmentID: env, TaskIdentifier: "a", ResumeParentOnCompletion: true},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := te.Trigger(ctx, req)
			var validation *errs.ServiceValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestIdempotencyKeyReturnsExistingRun(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	req := TriggerRequest{EnvironmentID: env, TaskIdentifier: "email.send", IdempotencyKey: "order-1"}
	first, err := te.Trigger(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := te.Trigger(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Run.ID, second.Run.ID)

	strict := req
	strict.FailOnDuplicateIdempotencyKey = true
	_, err = te.Trigger(ctx, strict)
	var dup *errs.RunDuplicateIdempotencyKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.Run.ID, dup.RunID)

	// 其它环境不受影响
	other := req
	other.EnvironmentID = "env_other"
	third, err := te.Trigger(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.Run.ID, third.Run.ID)
}

func TestIdempotencyKeyReleasedOnFinish(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	req := TriggerRequest{EnvironmentID: env, TaskIdentifier: "email.send", IdempotencyKey: "order-2"}
	first := te.trigger(t, req)
	started := te.startNext(t)
	_, err := te.CompleteRunAttempt(ctx, first.ID, started.Snapshot.ID, Completion{OK: true})
	require.NoError(t, err)

	next, err := te.Trigger(ctx, req)
	require.NoError(t, err)
	assert.False(t, next.Cached)
	assert.NotEqual(t, first.ID, next.Run.ID)
}

func TestResetIdempotencyKey(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	req := TriggerRequest{EnvironmentID: env, TaskIdentifier: "email.send", IdempotencyKey: "order-3"}
	first := te.trigger(t, req)

	n, err := te.ResetIdempotencyKey(ctx, ResetIdempotencyKeyRequest{EnvironmentID: env, Key: "order-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	next, err := te.Trigger(ctx, req)
	require.NoError(t, err)
	assert.False(t, next.Cached)
	assert.NotEqual(t, first.ID, next.Run.ID)

	_, err = te.ResetIdempotencyKey(ctx, ResetIdempotencyKeyRequest{EnvironmentID: env})
	assert.Error(t, err)
}

func TestConcurrentTriggersShareIdempotencyKey(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	const n = 8
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := te.Trigger(ctx, TriggerRequest{
				EnvironmentID:  env,
				TaskIdentifier: "email.send",
				IdempotencyKey: "burst",
			})
			if assert.NoError(t, err) {
				ids[i] = res.Run.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, lo.Uniq(ids), 1)
	depth, err := te.queue.GetQueueDepth(ctx, env, "task/email.send")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestScopedIdempotencyKeys(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	parentA := te.trigger(t, TriggerRequest{TaskIdentifier: "parent"})
	parentB := te.trigger(t, TriggerRequest{TaskIdentifier: "parent"})

	trigger := func(parent uint64) *TriggerResult {
		res, err := te.Trigger(ctx, TriggerRequest{
			EnvironmentID:       env,
			TaskIdentifier:      "child",
			IdempotencyKey:      "step-1",
			IdempotencyKeyScope: run.ScopeRun,
			ParentRunID:         parent,
		})
		require.NoError(t, err)
		return res
	}
	a1, a2, b1 := trigger(parentA.ID), trigger(parentA.ID), trigger(parentB.ID)
	assert.Equal(t, a1.Run.ID, a2.Run.ID)
	assert.True(t, a2.Cached)
	assert.NotEqual(t, a1.Run.ID, b1.Run.ID)
}

func TestOneTimeUseToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	req := TriggerRequest{EnvironmentID: env, TaskIdentifier: "email.send", OneTimeUseToken: "tok_1"}
	_, err := te.Trigger(ctx, req)
	require.NoError(t, err)

	_, err = te.Trigger(ctx, req)
	var used *errs.RunOneTimeUseTokenError
	assert.ErrorAs(t, err, &used)
}

func TestDelayedTrigger(t *testing.T) {
	te := newTestEngine(t)

	until := te.clock.Now().Add(time.Minute)
	r := te.trigger(t, TriggerRequest{DelayUntil: &until})
	assert.Empty(t, te.dequeue(t))

	te.clock.Advance(time.Minute)
	d := te.dequeueOne(t)
	assert.Equal(t, r.ID, d.Run.ID)
}

func TestGetRunByFriendlyID(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	r := te.trigger(t, TriggerRequest{})
	got, err := te.GetRunByFriendlyID(ctx, r.FriendlyID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = te.GetRunByFriendlyID(ctx, "run_zzzzzzzzzzzzzzz")
	assert.ErrorIs(t, err, errs.ErrRunNotFound)
}

func (te *testEngine) children(t *testing.T, parentID uint64) []*run.TaskRun {
	t.Helper()
	runs, err := te.runs.List(context.Background(), &run.Filter{
		EnvironmentID: mo.Some(env),
		ParentRunID:   mo.Some(parentID),
	})
	require.NoError(t, err)
	return runs
}

func TestTriggerAndWaitRequiresExecutingParent(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	parent := te.trigger(t, TriggerRequest{TaskIdentifier: "parent"})
	req := TriggerRequest{
		EnvironmentID:            env,
		TaskIdentifier:           "child",
		ParentRunID:              parent.ID,
		ResumeParentOnCompletion: true,
		IdempotencyKey:           "k1",
	}

	_, err := te.Trigger(ctx, req)
	var validation *errs.ServiceValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, te.children(t, parent.ID))
	depth, err := te.queue.GetQueueDepth(ctx, env, "task/child")
	require.NoError(t, err)
	assert.Zero(t, depth)

	// 父 run 开始执行后，相同的键创建新的 child 并正常入队
	te.startNext(t)
	res, err := te.Trigger(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.NotNil(t, res.Waitpoint)

	got, err := te.GetRun(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusExecutingWaiting, got.Status)

	d := te.dequeueOne(t)
	assert.Equal(t, res.Run.ID, d.Run.ID)
}

func TestFailedParentBlockCancelsChild(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	parent := te.trigger(t, TriggerRequest{TaskIdentifier: "parent"})
	started := te.startNext(t)
	created, err := te.CreateManualWaitpoint(ctx, CreateWaitpointRequest{EnvironmentID: env})
	require.NoError(t, err)
	_, err = te.WaitForWaitpoint(ctx, BlockRequest{
		RunID:        parent.ID,
		SnapshotID:   started.Snapshot.ID,
		WaitpointIDs: []uint64{created.Waitpoint.ID},
	})
	require.NoError(t, err)
	_, err = te.ResolveWaitpoint(ctx, created.Waitpoint.ID, waitpoint.Output{Value: `"ok"`})
	require.NoError(t, err)

	// 父 run 已恢复但尚未重新出队，无法再次阻塞
	req := TriggerRequest{
		EnvironmentID:            env,
		TaskIdentifier:           "child",
		ParentRunID:              parent.ID,
		ResumeParentOnCompletion: true,
		IdempotencyKey:           "k1",
	}
	_, err = te.Trigger(ctx, req)
	require.Error(t, err)

	children := te.children(t, parent.ID)
	require.Len(t, children, 1)
	assert.Equal(t, run.StatusCanceled, children[0].Status)
	assert.Empty(t, children[0].ActiveIdempotencyKey)

	// 没有遗留的 child 条目，只剩恢复的父 run
	d := te.dequeueOne(t)
	assert.Equal(t, parent.ID, d.Run.ID)
	assert.Equal(t, run.EventResumed, d.Snapshot.Event)

	retry := req
	retry.ResumeParentOnCompletion = false
	res, err := te.Trigger(ctx, retry)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NotEqual(t, children[0].ID, res.Run.ID)
}
