package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

var heartbeatTimeoutError = &run.RunError{
	Type:    run.ErrorTypeInternal,
	Name:    "HeartbeatTimeout",
	Message: "run did not heartbeat before its deadline",
}

// SweepHeartbeats 处理心跳超时与超过最长执行时间的 run
func (e *Engine) SweepHeartbeats(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.runs.List(ctx, &run.Filter{
		Statuses:        []run.Status{run.StatusExecuting, run.StatusPendingCancel},
		HeartbeatBefore: mo.Some(now),
		Limit:           e.cfg.SweepBatchSize,
	})
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, r := range expired {
		if e.expireRun(ctx, r.ID, false) {
			handled++
		}
	}

	overdue, err := e.runs.List(ctx, &run.Filter{
		Statuses:              []run.Status{run.StatusExecuting},
		AttemptDeadlineBefore: mo.Some(now),
		Limit:                 e.cfg.SweepBatchSize,
	})
	if err != nil {
		return handled, err
	}
	for _, r := range overdue {
		if e.failOverdueRun(ctx, r.ID) {
			handled++
		}
	}
	return handled, nil
}

// attemptDeadline 从 attempt 开始时间推算最长执行截止时间
func attemptDeadline(r *run.TaskRun, startedAt time.Time) *time.Time {
	if r.MaxDurationSeconds <= 0 {
		return nil
	}
	deadline := startedAt.Add(time.Duration(r.MaxDurationSeconds) * time.Second)
	return &deadline
}

func exceedsMaxDuration(r *run.TaskRun, now time.Time) bool {
	return r.AttemptDeadline != nil && r.AttemptDeadline.Before(now)
}

// expireRun 心跳超时：未开始的 attempt 重新入队，执行中的 attempt 按重试策略处理。
// force 为 true 时不检查截止时间，用于 worker 下线
func (e *Engine) expireRun(ctx context.Context, runID uint64, force bool) bool {
	var (
		handled  bool
		finished bool
	)
	err := e.withRunLockRetry(ctx, runID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != run.StatusExecuting && r.Status != run.StatusPendingCancel {
			return nil
		}
		if !force && (r.HeartbeatDeadline == nil || r.HeartbeatDeadline.After(e.now())) {
			return nil
		}
		if err := e.race.Wait(ctx, runID); err != nil {
			return err
		}
		handled = true

		if r.Status == run.StatusPendingCancel {
			finished = true
			_, err := e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, nil)
			return err
		}

		if prev.Event == run.EventDequeued {
			// 出队后 worker 没有开始 attempt，不消耗重试次数
			_, err := e.advance(ctx, r, prev, transition{
				status: run.StatusPending,
				event:  run.EventHeartbeatTimeout,
				patch: run.NewRunPatch().
					WithHeartbeatDeadline(nil).
					WithWorkerInstanceID(""),
				description: "dequeued run was never started",
			})
			if err != nil {
				return err
			}
			err = e.queue.Requeue(ctx, r.ID, 0)
			if runqueue.IsNotFound(err) {
				err = e.queue.Enqueue(ctx, e.entryFor(r, r.CreatedAt, e.now(), false))
			}
			return err
		}

		policy := r.Retry
		policy.MaxAttempts = r.MaxAttempts
		if policy.ShouldRetry(r.AttemptNumber) {
			_, err := e.scheduleRetry(ctx, r, prev, heartbeatTimeoutError, 0, run.EventHeartbeatTimeout)
			return err
		}
		finished = true
		_, err = e.finish(ctx, r, prev, run.StatusCrashed, run.EventCrashed, run.NewRunPatch().WithError(heartbeatTimeoutError))
		return err
	})
	if err != nil {
		if !errors.Is(err, errs.ErrRunNotFound) {
			e.logger.Warn("failed to expire run", zap.Uint64("run_id", runID), zap.Error(err))
		}
		return false
	}
	if handled {
		e.logger.Info("run heartbeat expired", zap.Uint64("run_id", runID), zap.Bool("forced", force))
	}
	if finished {
		e.resolveRunWaitpoints(ctx, runID)
	}
	return handled
}

func (e *Engine) failOverdueRun(ctx context.Context, runID uint64) bool {
	var handled bool
	err := e.withRunLockRetry(ctx, runID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != run.StatusExecuting || !exceedsMaxDuration(r, e.now()) {
			return nil
		}
		handled = true
		_, err = e.finish(ctx, r, prev, run.StatusFailed, run.EventMaxDurationExceeded, run.NewRunPatch().WithError(&run.RunError{
			Type:    run.ErrorTypeInternal,
			Name:    "MaxDurationExceeded",
			Message: "run exceeded its maximum duration",
		}))
		return err
	})
	if err != nil {
		e.logger.Warn("failed to stop overdue run", zap.Uint64("run_id", runID), zap.Error(err))
		return false
	}
	if handled {
		e.resolveRunWaitpoints(ctx, runID)
	}
	return handled
}

// SweepWorkers 把超时未心跳的 worker 标记为下线，并回收它们持有的 run
func (e *Engine) SweepWorkers(ctx context.Context) (int, error) {
	ids, err := e.workers.MarkStaleOffline(ctx, e.now(), e.cfg.WorkerStaleAfter)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, id := range ids {
		runs, err := e.runs.List(ctx, &run.Filter{
			WorkerInstanceID: mo.Some(id),
			Statuses:         []run.Status{run.StatusExecuting, run.StatusPendingCancel},
		})
		if err != nil {
			e.logger.Warn("failed to list runs of offline worker", zap.String("worker_instance", id), zap.Error(err))
			continue
		}
		for _, r := range runs {
			if e.expireRun(ctx, r.ID, true) {
				handled++
			}
		}
		_ = e.bus.Publish(ctx, eventbus.Event{Type: eventbus.EventWorkerOffline, Source: id})
		e.logger.Info("worker marked offline", zap.String("worker_instance", id), zap.Int("runs", len(runs)))
	}
	return handled, nil
}

func timeoutOutput() waitpoint.Output {
	raw, _ := json.Marshal(&run.RunError{Type: run.ErrorTypeString, Name: "WaitpointTimeout", Message: "waitpoint timed out"})
	return waitpoint.Output{Value: string(raw), IsError: true}
}

// SweepWaitpoints 完成到期的 waitpoint，并补偿未能恢复的阻塞 run
func (e *Engine) SweepWaitpoints(ctx context.Context) (int, error) {
	due, err := e.waitpoints.FindDue(ctx, e.now(), e.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, wp := range due {
		var output waitpoint.Output
		if wp.Type != waitpoint.TypeDateTime {
			output = timeoutOutput()
		}
		_, err := e.ResolveWaitpoint(ctx, wp.ID, output)
		if err != nil && !errors.Is(err, errs.ErrWaitpointAlreadyCompleted) {
			e.logger.Warn("failed to resolve due waitpoint", zap.Uint64("waitpoint_id", wp.ID), zap.Error(err))
			continue
		}
		handled++
	}

	batch := e.cfg.SweepBatchSize
	waiting, err := e.runs.List(ctx, &run.Filter{
		Statuses: []run.Status{run.StatusExecutingWaiting},
		IDAfter:  mo.Some(e.waitingCursor.Load()),
		Limit:    batch,
	})
	if err != nil {
		return handled, err
	}
	// 扫完一轮后从头开始
	if batch <= 0 || len(waiting) < batch {
		e.waitingCursor.Store(0)
	} else {
		e.waitingCursor.Store(waiting[len(waiting)-1].ID)
	}
	for _, r := range waiting {
		if e.repairWaitingRun(ctx, r.ID) {
			handled++
		}
	}
	return handled, nil
}

// repairWaitingRun 子 run 已结束但 waitpoint 未完成，或已解除阻塞但续跑条目丢失
func (e *Engine) repairWaitingRun(ctx context.Context, runID uint64) bool {
	blocking, err := e.waitpoints.ListForRun(ctx, runID)
	if err != nil {
		e.logger.Warn("failed to load blocking waitpoints", zap.Uint64("run_id", runID), zap.Error(err))
		return false
	}
	for _, wp := range blocking {
		if wp.IsCompleted() || wp.Type != waitpoint.TypeRun {
			continue
		}
		child, err := e.runs.GetByID(ctx, wp.CompletedByRunID)
		if err != nil || child == nil || !child.Status.IsTerminal() {
			continue
		}
		e.resolveRunWaitpoints(ctx, child.ID)
	}

	var repaired bool
	err = e.withRunLockRetry(ctx, runID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != run.StatusExecutingWaiting {
			return nil
		}
		if prev.Event == run.EventWaitpointsResolved {
			if _, err := e.queue.Get(ctx, r.ID); !runqueue.IsNotFound(err) {
				return err
			}
			repaired = true
			return e.queue.Enqueue(ctx, e.entryFor(r, r.CreatedAt, e.now(), true))
		}
		if err := e.resumeIfUnblocked(ctx, r, prev); err != nil {
			return err
		}
		repaired = prev.ID != r.LatestSnapshotID
		return nil
	})
	if err != nil {
		e.logger.Warn("failed to repair waiting run", zap.Uint64("run_id", runID), zap.Error(err))
		return false
	}
	return repaired
}
