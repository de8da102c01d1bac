package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/retry"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// runOutput 结束的 run 交给等待方的结果，失败时为错误的 JSON
func runOutput(r *run.TaskRun) waitpoint.Output {
	if r.Status == run.StatusCompleted {
		return waitpoint.Output{Value: string(r.Output)}
	}
	runErr := r.Error
	if runErr == nil {
		runErr = &run.RunError{Type: run.ErrorTypeString, Message: "run " + string(r.Status)}
	}
	raw, _ := json.Marshal(runErr)
	return waitpoint.Output{Value: string(raw), IsError: true}
}

// CompleteRunAttempt 结束当前 attempt：成功、按重试策略重新入队，或进入失败终态
func (e *Engine) CompleteRunAttempt(ctx context.Context, runID, snapshotID uint64, completion Completion) (*CompleteResult, error) {
	var out *CompleteResult
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
			snap, err := e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, nil)
			if err != nil {
				return err
			}
			out = &CompleteResult{AttemptStatus: AttemptRunCancelled, Run: r, Snapshot: snap}
			return nil
		}
		if r.LatestSnapshotID != snapshotID {
			return errs.ErrStaleSnapshot
		}
		if prev.Status != run.StatusExecuting || r.AttemptNumber == 0 {
			return &errs.ServiceValidationError{
				Msg:    "run " + r.FriendlyID + " has no attempt in progress",
				Status: http.StatusConflict,
			}
		}

		if completion.OK {
			snap, err := e.finish(ctx, r, prev, run.StatusCompleted, run.EventCompleted,
				run.NewRunPatch().WithOutput(completion.Output, completion.OutputType))
			if err != nil {
				return err
			}
			out = &CompleteResult{AttemptStatus: AttemptRunFinished, Run: r, Snapshot: snap}
			return nil
		}

		runErr := completion.Error
		if runErr == nil {
			runErr = &run.RunError{Type: run.ErrorTypeInternal, Message: "attempt failed without an error"}
		}
		policy := r.Retry
		policy.MaxAttempts = r.MaxAttempts
		if !completion.SkipRetrying && policy.ShouldRetry(r.AttemptNumber) {
			delay := retry.Delay(policy, r.AttemptNumber)
			snap, err := e.scheduleRetry(ctx, r, prev, runErr, delay, run.EventRetryScheduled)
			if err != nil {
				return err
			}
			out = &CompleteResult{AttemptStatus: AttemptRetryQueued, Run: r, Snapshot: snap, RetryDelay: delay}
			return nil
		}

		status, event := run.StatusFailed, run.EventFailed
		if runErr.IsCrash() {
			status, event = run.StatusCrashed, run.EventCrashed
		}
		snap, err := e.finish(ctx, r, prev, status, event, run.NewRunPatch().WithError(runErr))
		if err != nil {
			return err
		}
		out = &CompleteResult{AttemptStatus: AttemptRunFinished, Run: r, Snapshot: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Run.Status.IsTerminal() {
		e.resolveRunWaitpoints(ctx, runID)
	}
	return out, nil
}

// scheduleRetry 回到 PENDING 并在 delay 后重新可见，释放并发占用
func (e *Engine) scheduleRetry(ctx context.Context, r *run.TaskRun, prev *run.Snapshot, runErr *run.RunError, delay time.Duration, event run.SnapshotEvent) (*run.Snapshot, error) {
	retryAt := e.now().Add(delay)
	snap, err := e.advance(ctx, r, prev, transition{
		status: run.StatusPending,
		event:  event,
		patch: run.NewRunPatch().
			WithError(runErr).
			WithHeartbeatDeadline(nil).
			WithWorkerInstanceID("").
			WithDelayUntil(&retryAt),
		description: runErr.String(),
	})
	if err != nil {
		return nil, err
	}
	err = e.queue.Requeue(ctx, r.ID, delay, func(entry *runqueue.Entry) {
		entry.Attempt = r.AttemptNumber
		entry.Continuation = false
	})
	if runqueue.IsNotFound(err) {
		err = e.queue.Enqueue(ctx, e.entryFor(r, r.CreatedAt, retryAt, false))
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("retry scheduled",
		zap.Uint64("run_id", r.ID),
		zap.Int("attempt", r.AttemptNumber),
		zap.Duration("delay", delay))
	return snap, nil
}

// resolveRunWaitpoints run 结束后完成等待它的 RUN waitpoint
func (e *Engine) resolveRunWaitpoints(ctx context.Context, runID uint64) {
	r, err := e.runs.GetByID(ctx, runID)
	if err != nil || r == nil || !r.Status.IsTerminal() {
		return
	}
	wps, err := e.waitpoints.FindPendingByCompletedByRun(ctx, runID)
	if err != nil {
		e.logger.Error("failed to load run waitpoints", zap.Uint64("run_id", runID), zap.Error(err))
		return
	}
	output := runOutput(r)
	for _, wp := range wps {
		if _, err := e.ResolveWaitpoint(ctx, wp.ID, output); err != nil && !errors.Is(err, errs.ErrWaitpointAlreadyCompleted) {
			e.logger.Error("failed to resolve run waitpoint",
				zap.Uint64("run_id", runID),
				zap.Uint64("waitpoint_id", wp.ID),
				zap.Error(err))
		}
	}
}

// CancelRun 取消 run，可重复调用。执行中的 attempt 为协作式取消，由 worker 下一次上报时结束
func (e *Engine) CancelRun(ctx context.Context, runID uint64, reason string) (*run.TaskRun, error) {
	if reason == "" {
		reason = "Canceled by user"
	}
	cancelErr := &run.RunError{Type: run.ErrorTypeString, Name: "Canceled", Message: reason}

	var out *run.TaskRun
	err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, runID)
		if err != nil {
			return err
		}
		out = r
		if r.Status.IsTerminal() || r.Status == run.StatusPendingCancel {
			return nil
		}
		if err := e.race.Wait(ctx, runID); err != nil {
			return err
		}

		switch r.Status {
		case run.StatusPending:
			_, err = e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, run.NewRunPatch().WithError(cancelErr))
		case run.StatusExecutingWaiting:
			err = e.tx.Execute(ctx, func(ctx context.Context) error {
				if err := e.waitpoints.ClearRun(ctx, r.ID); err != nil {
					return err
				}
				_, err := e.finish(ctx, r, prev, run.StatusCanceled, run.EventCanceled, run.NewRunPatch().WithError(cancelErr))
				return err
			})
		case run.StatusExecuting:
			_, err = e.advance(ctx, r, prev, transition{
				status:      run.StatusPendingCancel,
				event:       run.EventCancelRequested,
				patch:       run.NewRunPatch().WithError(cancelErr),
				description: reason,
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	switch out.Status {
	case run.StatusCanceled:
		e.resolveRunWaitpoints(ctx, runID)
	case run.StatusPendingCancel:
		_ = e.bus.Publish(ctx, eventbus.Event{Type: eventbus.EventRunCancelled, EnvironmentID: out.EnvironmentID, RunID: out.ID})
	}
	e.cancelChildren(ctx, out, reason)
	return out, nil
}

// cancelChildren 取消尚未结束的子 run
func (e *Engine) cancelChildren(ctx context.Context, parent *run.TaskRun, reason string) {
	children, err := e.runs.List(ctx, &run.Filter{
		EnvironmentID: mo.Some(parent.EnvironmentID),
		ParentRunID:   mo.Some(parent.ID),
		Statuses: []run.Status{
			run.StatusPending, run.StatusExecuting, run.StatusExecutingWaiting,
		},
	})
	if err != nil {
		e.logger.Warn("failed to list child runs", zap.Uint64("run_id", parent.ID), zap.Error(err))
		return
	}
	for _, child := range lo.Filter(children, func(c *run.TaskRun, _ int) bool { return c.ID != parent.ID }) {
		if _, err := e.CancelRun(ctx, child.ID, reason); err != nil {
			e.logger.Warn("failed to cancel child run", zap.Uint64("run_id", child.ID), zap.Error(err))
		}
	}
}
