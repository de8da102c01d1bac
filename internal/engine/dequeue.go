package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/runqueue"
	"go.uber.org/zap"
)

// Dequeue 从 run 队列拉取最多 MaxRuns 条可执行的 run，没有时返回空结果，不阻塞
func (e *Engine) Dequeue(ctx context.Context, req DequeueRequest) ([]DequeuedRun, error) {
	maxRuns := req.MaxRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	if limit := e.cfg.DequeueMaxRuns; limit > 0 && maxRuns > limit {
		maxRuns = limit
	}

	var out []DequeuedRun
	for len(out) < maxRuns {
		entry, err := e.queue.Dequeue(ctx, req.ConsumerID, req.EnvironmentID)
		if err != nil {
			if len(out) > 0 {
				e.logger.Warn("dequeue interrupted", zap.Error(err))
				break
			}
			return nil, err
		}
		if entry == nil {
			break
		}

		d, err := e.dequeueEntry(ctx, entry, &req)
		if err != nil {
			e.logger.Warn("failed to start dequeued run, requeueing",
				zap.Uint64("run_id", entry.RunID),
				zap.Error(err))
			if rqErr := e.queue.Requeue(ctx, entry.RunID, time.Second); rqErr != nil && !runqueue.IsNotFound(rqErr) {
				e.logger.Error("failed to requeue run", zap.Uint64("run_id", entry.RunID), zap.Error(rqErr))
			}
			continue
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (e *Engine) dequeueEntry(ctx context.Context, entry *runqueue.Entry, req *DequeueRequest) (*DequeuedRun, error) {
	var (
		out      *DequeuedRun
		canceled bool
	)
	err := e.withRunLock(ctx, entry.RunID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, entry.RunID)
		if errors.Is(err, errs.ErrRunNotFound) {
			e.acknowledge(ctx, entry.RunID)
			return nil
		} else if err != nil {
			return err
		}

		if r.Status.IsTerminal() {
			e.acknowledge(ctx, r.ID)
			return nil
		}
		if err := e.race.Wait(ctx, r.ID); err != nil {
			return err
		}

		t := transition{
			status:   run.StatusExecuting,
			runnerID: req.RunnerID,
			patch: run.NewRunPatch().
				WithWorkerInstanceID(req.WorkerInstanceID).
				WithHeartbeatDeadline(e.visibilityDeadline()),
		}
		switch {
		case r.Status == run.StatusPendingCancel:
			if _, err := e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, nil); err != nil {
				return err
			}
			canceled = true
			return nil
		case r.Status == run.StatusPending:
			t.event = run.EventDequeued
			t.description = "dequeued by " + req.ConsumerID
			t.patch.WithAttemptDeadline(nil)
		case r.Status == run.StatusExecutingWaiting && prev.Event == run.EventWaitpointsResolved:
			t.event = run.EventResumed
			t.completed = prev.CompletedWaitpoints
			t.description = "resumed after waitpoints"
		default:
			// 已在执行的 run 不应再次出队，保持占用不动
			e.logger.Warn("dequeued run in unexpected state",
				zap.Uint64("run_id", r.ID),
				zap.String("status", string(r.Status)),
				zap.String("event", string(prev.Event)))
			return nil
		}

		snap, err := e.advance(ctx, r, prev, t)
		if err != nil {
			return err
		}
		out = &DequeuedRun{Run: r, Snapshot: snap, CompletedWaitpoints: snap.CompletedWaitpoints}
		return nil
	})
	if err == nil && canceled {
		e.resolveRunWaitpoints(ctx, entry.RunID)
	}
	return out, err
}

func notStartable(r *run.TaskRun, snap *run.Snapshot) error {
	return &errs.ServiceValidationError{
		Msg:    "run " + r.FriendlyID + " is not waiting to start an attempt (" + string(snap.Status) + "/" + string(snap.Event) + ")",
		Status: http.StatusConflict,
	}
}

// StartRunAttempt 开始一次 attempt。snapshotID 必须是最新的 EXECUTING/dequeued 快照
func (e *Engine) StartRunAttempt(ctx context.Context, runID, snapshotID uint64) (*StartResult, error) {
	var (
		out       *StartResult
		duplicate error
		canceled  bool
	)
	err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() {
			return errs.ErrRunFinished
		}
		if err := e.race.Wait(ctx, runID); err != nil {
			return err
		}
		if r.Status == run.StatusPendingCancel {
			if _, err := e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, nil); err != nil {
				return err
			}
			canceled = true
			return nil
		}
		if r.LatestSnapshotID != snapshotID {
			return errs.ErrStaleSnapshot
		}
		if prev.Status != run.StatusExecuting || prev.Event != run.EventDequeued {
			return notStartable(r, prev)
		}

		if r.IdempotencyKey != "" {
			other, err := e.runs.FindExecutingWithIdempotencyKey(ctx, r.EnvironmentID, r.IdempotencyKey, r.ID)
			if err != nil {
				return err
			}
			if other != nil && other.IdempotencyKeyScope == r.IdempotencyKeyScope && other.ParentRunID == r.ParentRunID {
				duplicate = &errs.RunDuplicateIdempotencyKeyError{IdempotencyKey: r.IdempotencyKey, RunID: other.ID}
				_, err := e.finish(ctx, r, prev, run.StatusFailed, run.EventFailed, run.NewRunPatch().WithError(&run.RunError{
					Type:    run.ErrorTypeString,
					Name:    "DuplicateIdempotencyKey",
					Message: duplicate.Error(),
				}))
				return err
			}
		}

		now := e.now()
		patch := run.NewRunPatch().
			WithAttemptNumber(r.AttemptNumber + 1).
			WithAttemptStartedAt(&now).
			WithAttemptDeadline(attemptDeadline(r, now)).
			WithHeartbeatDeadline(e.visibilityDeadline())
		if r.StartedAt == nil {
			patch.WithStartedAt(&now)
		}
		snap, err := e.advance(ctx, r, prev, transition{
			status: run.StatusExecuting,
			event:  run.EventAttemptStarted,
			patch:  patch,
		})
		if err != nil {
			return err
		}
		out = &StartResult{Run: r, Snapshot: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if canceled {
		e.resolveRunWaitpoints(ctx, runID)
		return nil, errs.ErrRunCancelled
	}
	if duplicate != nil {
		e.resolveRunWaitpoints(ctx, runID)
		return nil, duplicate
	}
	e.logger.Debug("attempt started", zap.Uint64("run_id", runID), zap.Int("attempt", out.Run.AttemptNumber))
	return out, nil
}

// HeartbeatRun 延长心跳截止时间。返回最新快照，worker 据此发现取消请求
func (e *Engine) HeartbeatRun(ctx context.Context, runID, snapshotID uint64) (*run.Snapshot, error) {
	r, err := e.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, errs.ErrRunFinished
	}
	if r.LatestSnapshotID != snapshotID {
		if r.Status == run.StatusPendingCancel {
			return e.GetLatestSnapshot(ctx, runID)
		}
		return nil, errs.ErrStaleSnapshot
	}
	if r.Status != run.StatusExecuting && r.Status != run.StatusPendingCancel {
		return nil, errs.ErrStaleSnapshot
	}
	ok, err := e.runs.UpdateHeartbeat(ctx, runID, snapshotID, *e.visibilityDeadline())
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.ErrStaleSnapshot
	}
	return e.runs.GetSnapshot(ctx, snapshotID)
}
