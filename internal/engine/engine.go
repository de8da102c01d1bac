// Package engine 实现 run 的状态机：触发、出队、attempt 执行、waitpoint 阻塞与恢复、取消，
// 以及心跳、worker 存活与定时 waitpoint 的后台扫描。
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/biz/workerinstance"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/periodic"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/jobs/runengine/internal/retry"
	"github.com/jobs/runengine/internal/runlock"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

const (
	runIDPrefix       = "run"
	waitpointIDPrefix = "waitpoint"
)

type Option func(*Engine)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRaceSimulation 注入竞态模拟
func WithRaceSimulation(race *RaceSimulation) Option {
	return func(e *Engine) { e.race = race }
}

type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger
	now    func() time.Time

	runs       run.Repo
	waitpoints waitpoint.Repo
	tx         commonrepo.Transaction
	queue      *runqueue.RunQueue
	queueDefs  *queue.Cache
	queues     *queue.Usecase
	tasks      *task.Usecase
	workers    *workerinstance.Usecase
	locker     *runlock.Locker
	bus        eventbus.Bus
	race       *RaceSimulation

	defaultConcurrency int
	sweepers           []*periodic.Worker
	// waitingCursor 阻塞 run 补偿扫描的分页位置
	waitingCursor atomic.Uint64
}

func New(
	cfg config.Config,
	logger *zap.Logger,
	runs run.Repo,
	waitpoints waitpoint.Repo,
	tx commonrepo.Transaction,
	runQueue *runqueue.RunQueue,
	queueDefs *queue.Cache,
	queues *queue.Usecase,
	tasks *task.Usecase,
	workers *workerinstance.Usecase,
	locker *runlock.Locker,
	bus eventbus.Bus,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:                cfg.Engine,
		logger:             logger.Named("engine"),
		now:                func() time.Time { return time.Now().UTC() },
		runs:               runs,
		waitpoints:         waitpoints,
		tx:                 tx,
		queue:              runQueue,
		queueDefs:          queueDefs,
		queues:             queues,
		tasks:              tasks,
		workers:            workers,
		locker:             locker,
		bus:                bus,
		race:               NewRaceSimulation(),
		defaultConcurrency: cfg.RunQueue.DefaultConcurrencyLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sweepers = []*periodic.Worker{
		periodic.New("heartbeat-sweep", e.cfg.HeartbeatSweepInterval, e.SweepHeartbeats, e.logger),
		periodic.New("worker-sweep", e.cfg.HeartbeatSweepInterval, e.SweepWorkers, e.logger),
		periodic.New("waitpoint-sweep", e.cfg.WaitpointSweepInterval, e.SweepWaitpoints, e.logger),
	}
	return e
}

// Start 启动后台扫描
func (e *Engine) Start() {
	for _, w := range e.sweepers {
		w.Start()
	}
}

func (e *Engine) Stop() {
	for _, w := range e.sweepers {
		w.Stop()
	}
}

// RaceSimulation 测试用的竞态注入点
func (e *Engine) RaceSimulation() *RaceSimulation {
	return e.race
}

func (e *Engine) visibilityDeadline() *time.Time {
	deadline := e.now().Add(e.cfg.VisibilityTimeout)
	return &deadline
}

func (e *Engine) defaultRetry() retry.Config {
	r := e.cfg.DefaultRetry
	return retry.Config{
		MaxAttempts:    r.MaxAttempts,
		MinTimeoutInMs: r.MinTimeoutInMs,
		MaxTimeoutInMs: r.MaxTimeoutInMs,
		Factor:         r.Factor,
		Randomize:      r.Randomize,
	}
}

func (e *Engine) withRunLock(ctx context.Context, runID uint64, fn func(ctx context.Context) error) error {
	return e.locker.WithLock(ctx, []string{runlock.RunKey(runID)}, fn)
}

// withRunLockRetry 后台扫描使用，锁超时或快照过期时重试
func (e *Engine) withRunLockRetry(ctx context.Context, runID uint64, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i <= e.cfg.LockMaxRetries; i++ {
		err = e.withRunLock(ctx, runID, fn)
		if err == nil || !errs.IsRetryable(err) {
			return err
		}
		e.logger.Debug("retrying contended run operation", zap.Uint64("run_id", runID), zap.Int("attempt", i+1), zap.Error(err))
	}
	return err
}

// load 读取 run 及其最新快照
func (e *Engine) load(ctx context.Context, runID uint64) (*run.TaskRun, *run.Snapshot, error) {
	r, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, nil, err
	} else if r == nil {
		return nil, nil, errs.ErrRunNotFound
	}
	snap, err := e.runs.GetSnapshot(ctx, r.LatestSnapshotID)
	if err != nil {
		return nil, nil, err
	} else if snap == nil {
		return nil, nil, errors.New("latest snapshot is missing")
	}
	return r, snap, nil
}

type transition struct {
	status      run.Status
	event       run.SnapshotEvent
	patch       *run.RunPatch
	description string
	completed   []run.CompletedWaitpoint
	released    bool
	runnerID    string
}

// advance 写入新快照并推进 run，成功后 r 反映最新状态
func (e *Engine) advance(ctx context.Context, r *run.TaskRun, prev *run.Snapshot, t transition) (*run.Snapshot, error) {
	patch := t.patch
	if patch == nil {
		patch = run.NewRunPatch()
	}
	patch.WithStatus(t.status)

	next := *r
	patch.Apply(&next)
	runnerID := t.runnerID
	if runnerID == "" {
		runnerID = prev.RunnerID
	}
	snap := &run.Snapshot{
		ID:                  idx.NextID(),
		RunID:               r.ID,
		Version:             prev.Version + 1,
		Status:              t.status,
		Event:               t.event,
		AttemptNumber:       next.AttemptNumber,
		WorkerInstanceID:    next.WorkerInstanceID,
		RunnerID:            runnerID,
		CompletedWaitpoints: t.completed,
		Description:         t.description,
		ConcurrencyReleased: t.released,
		CreatedAt:           e.now(),
	}
	if err := e.runs.AdvanceSnapshot(ctx, r.ID, prev.ID, snap, patch); err != nil {
		return nil, err
	}
	next.LatestSnapshotID = snap.ID
	*r = next
	return snap, nil
}

// finish 进入终态：释放幂等键、清除心跳并删除队列条目
func (e *Engine) finish(ctx context.Context, r *run.TaskRun, prev *run.Snapshot, status run.Status, event run.SnapshotEvent, patch *run.RunPatch) (*run.Snapshot, error) {
	now := e.now()
	if patch == nil {
		patch = run.NewRunPatch()
	}
	patch.WithCompletedAt(&now).WithHeartbeatDeadline(nil).ClearActiveIdempotencyKey()
	snap, err := e.advance(ctx, r, prev, transition{status: status, event: event, patch: patch})
	if err != nil {
		return nil, err
	}
	e.acknowledge(ctx, r.ID)
	e.logger.Info("run finished",
		zap.Uint64("run_id", r.ID),
		zap.String("status", string(status)),
		zap.Int("attempt", r.AttemptNumber))
	return snap, nil
}

func (e *Engine) acknowledge(ctx context.Context, runID uint64) {
	if err := e.queue.Acknowledge(ctx, runID); err != nil && !runqueue.IsNotFound(err) {
		e.logger.Warn("failed to acknowledge queue entry", zap.Uint64("run_id", runID), zap.Error(err))
	}
}

func (e *Engine) entryFor(r *run.TaskRun, enqueuedAt, availableAt time.Time, continuation bool) runqueue.Entry {
	return runqueue.Entry{
		RunID:          r.ID,
		OrganizationID: r.OrganizationID,
		EnvironmentID:  r.EnvironmentID,
		Queue:          r.QueueName,
		TaskIdentifier: r.TaskIdentifier,
		Priority:       r.Priority,
		EnqueuedAt:     enqueuedAt,
		AvailableAt:    availableAt,
		Attempt:        r.AttemptNumber,
		Continuation:   continuation,
	}
}

func (e *Engine) publishEnqueued(ctx context.Context, r *run.TaskRun) {
	err := e.bus.Publish(ctx, eventbus.Event{
		Type:          eventbus.EventRunEnqueued,
		EnvironmentID: r.EnvironmentID,
		Queue:         r.QueueName,
		RunID:         r.ID,
	})
	if err != nil {
		e.logger.Warn("failed to publish run_enqueued", zap.Uint64("run_id", r.ID), zap.Error(err))
	}
}

// GetRun 只读，不加锁
func (e *Engine) GetRun(ctx context.Context, runID uint64) (*run.TaskRun, error) {
	r, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	} else if r == nil {
		return nil, errs.ErrRunNotFound
	}
	return r, nil
}

// GetRunByFriendlyID 同时接受 run_xxx 与数字 id
func (e *Engine) GetRunByFriendlyID(ctx context.Context, friendlyID string) (*run.TaskRun, error) {
	if id, ok := idx.ParseFriendly(runIDPrefix, friendlyID); ok {
		return e.GetRun(ctx, id)
	}
	return nil, errs.ErrRunNotFound
}

func (e *Engine) GetLatestSnapshot(ctx context.Context, runID uint64) (*run.Snapshot, error) {
	snap, err := e.runs.LatestSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	} else if snap == nil {
		return nil, errs.ErrRunNotFound
	}
	return snap, nil
}

func (e *Engine) ListSnapshots(ctx context.Context, runID uint64) ([]*run.Snapshot, error) {
	return e.runs.ListSnapshots(ctx, runID)
}
