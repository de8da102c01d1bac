package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func completedWaitpoint(wp *waitpoint.Waitpoint) run.CompletedWaitpoint {
	c := run.CompletedWaitpoint{
		ID:            wp.ID,
		FriendlyID:    wp.FriendlyID,
		Type:          string(wp.Type),
		Output:        wp.Output,
		OutputIsError: wp.OutputIsError,
		CompletedBy:   wp.CompletedByRunID,
	}
	if wp.CompletedAt != nil {
		c.CompletedAt = *wp.CompletedAt
	}
	return c
}

// WaitForWaitpoint 让执行中的 run 阻塞在一组 waitpoint 上。全部已完成时不阻塞，直接返回结果
func (e *Engine) WaitForWaitpoint(ctx context.Context, req BlockRequest) (*BlockResult, error) {
	if len(req.WaitpointIDs) == 0 {
		return nil, errs.NewValidationError("at least one waitpoint is required")
	}
	var (
		out      *BlockResult
		released bool
	)
	err := e.withRunLock(ctx, req.RunID, func(ctx context.Context) error {
		r, prev, err := e.load(ctx, req.RunID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() {
			return errs.ErrRunFinished
		}
		if req.SnapshotID != 0 && r.LatestSnapshotID != req.SnapshotID {
			return errs.ErrStaleSnapshot
		}
		blocking := r.Status == run.StatusExecutingWaiting && prev.Event == run.EventWaitpointBlocked
		if r.Status != run.StatusExecuting && !blocking {
			return &errs.ServiceValidationError{
				Msg:    "run " + r.FriendlyID + " cannot block in status " + string(r.Status),
				Status: http.StatusConflict,
			}
		}
		if err := e.race.Wait(ctx, r.ID); err != nil {
			return err
		}

		var pending []uint64
		var completed []run.CompletedWaitpoint
		for _, id := range lo.Uniq(req.WaitpointIDs) {
			wp, err := e.waitpoints.GetByID(ctx, id)
			if err != nil {
				return err
			} else if wp == nil || wp.EnvironmentID != r.EnvironmentID {
				return errs.ErrWaitpointNotFound
			}
			if wp.IsCompleted() {
				completed = append(completed, completedWaitpoint(wp))
			} else {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			out = &BlockResult{Blocked: blocking, Snapshot: prev, CompletedWaitpoints: completed}
			return nil
		}

		if blocking {
			// 已经阻塞的 run 追加新的 waitpoint，不产生新快照
			if err := e.waitpoints.Block(ctx, r.ID, pending); err != nil {
				return err
			}
			out = &BlockResult{Blocked: true, Snapshot: prev}
			return nil
		}

		release := req.ReleaseConcurrency.OrElse(false)
		if req.ReleaseConcurrency.IsAbsent() {
			def, err := e.queueDefs.Definition(ctx, r.EnvironmentID, r.QueueName)
			if err != nil {
				return err
			}
			release = def.ReleaseConcurrencyOnWaitpoint
		}

		var snap *run.Snapshot
		err = e.tx.Execute(ctx, func(ctx context.Context) error {
			if err := e.waitpoints.Block(ctx, r.ID, pending); err != nil {
				return err
			}
			snap, err = e.advance(ctx, r, prev, transition{
				status:      run.StatusExecutingWaiting,
				event:       run.EventWaitpointBlocked,
				patch:       run.NewRunPatch().WithHeartbeatDeadline(nil),
				released:    release,
				description: "blocked on waitpoints",
			})
			return err
		})
		if err != nil {
			return err
		}
		if release {
			if ok, err := e.queue.ReleaseConcurrency(ctx, r.ID); err != nil {
				e.logger.Warn("failed to release concurrency", zap.Uint64("run_id", r.ID), zap.Error(err))
			} else {
				released = ok
			}
		}
		out = &BlockResult{Blocked: true, Snapshot: snap}

		// 等待期间可能已有 waitpoint 被完成，此时 run 直接作为续跑条目入队
		return e.resumeIfUnblocked(ctx, r, snap)
	})
	if err != nil {
		return nil, err
	}
	if out.Blocked {
		e.logger.Debug("run blocked",
			zap.Uint64("run_id", req.RunID),
			zap.Uint64s("waitpoints", req.WaitpointIDs),
			zap.Bool("released", released))
	}
	return out, nil
}

// resumeIfUnblocked 调用方持有 run 锁。所有 waitpoint 完成后把 run 作为续跑条目重新入队
func (e *Engine) resumeIfUnblocked(ctx context.Context, r *run.TaskRun, prev *run.Snapshot) error {
	if r.Status != run.StatusExecutingWaiting || prev.Event != run.EventWaitpointBlocked {
		return nil
	}
	blocking, err := e.waitpoints.ListForRun(ctx, r.ID)
	if err != nil {
		return err
	}
	if lo.SomeBy(blocking, func(wp *waitpoint.Waitpoint) bool { return !wp.IsCompleted() }) {
		return nil
	}
	completed := lo.Map(blocking, func(wp *waitpoint.Waitpoint, _ int) run.CompletedWaitpoint {
		return completedWaitpoint(wp)
	})

	err = e.tx.Execute(ctx, func(ctx context.Context) error {
		if err := e.waitpoints.ClearRun(ctx, r.ID); err != nil {
			return err
		}
		_, err := e.advance(ctx, r, prev, transition{
			status:      run.StatusExecutingWaiting,
			event:       run.EventWaitpointsResolved,
			completed:   completed,
			description: "all waitpoints completed",
		})
		return err
	})
	if err != nil {
		return err
	}
	// 续跑条目保持原始入队时间，排在新触发的 run 之前
	if err := e.queue.Enqueue(ctx, e.entryFor(r, r.CreatedAt, e.now(), true)); err != nil {
		return err
	}
	e.publishEnqueued(ctx, r)
	e.logger.Debug("run unblocked", zap.Uint64("run_id", r.ID), zap.Int("waitpoints", len(completed)))
	return nil
}

// ResolveWaitpoint 完成 waitpoint 并恢复被它阻塞的 run。只有第一次调用生效
func (e *Engine) ResolveWaitpoint(ctx context.Context, waitpointID uint64, output waitpoint.Output) (*waitpoint.Waitpoint, error) {
	wp, err := e.GetWaitpoint(ctx, waitpointID)
	if err != nil {
		return nil, err
	}
	if wp.IsCompleted() {
		return wp, errs.ErrWaitpointAlreadyCompleted
	}
	ok, err := e.waitpoints.Complete(ctx, waitpointID, output, e.now())
	if err != nil {
		return nil, err
	} else if !ok {
		return wp, errs.ErrWaitpointAlreadyCompleted
	}

	runIDs, err := e.waitpoints.BlockedRunIDs(ctx, waitpointID)
	if err != nil {
		return nil, err
	}
	for _, runID := range runIDs {
		err := e.withRunLockRetry(ctx, runID, func(ctx context.Context) error {
			r, prev, err := e.load(ctx, runID)
			if err != nil {
				return err
			}
			return e.resumeIfUnblocked(ctx, r, prev)
		})
		if err != nil && !errors.Is(err, errs.ErrRunNotFound) {
			// 后台扫描会再次尝试
			e.logger.Warn("failed to resume blocked run",
				zap.Uint64("run_id", runID),
				zap.Uint64("waitpoint_id", waitpointID),
				zap.Error(err))
		}
	}
	return e.GetWaitpoint(ctx, waitpointID)
}

func (e *Engine) GetWaitpoint(ctx context.Context, id uint64) (*waitpoint.Waitpoint, error) {
	wp, err := e.waitpoints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	} else if wp == nil {
		return nil, errs.ErrWaitpointNotFound
	}
	return wp, nil
}

// GetWaitpointByFriendlyID 同时接受 waitpoint_xxx 与数字 id
func (e *Engine) GetWaitpointByFriendlyID(ctx context.Context, friendlyID string) (*waitpoint.Waitpoint, error) {
	if id, ok := idx.ParseFriendly(waitpointIDPrefix, friendlyID); ok {
		return e.GetWaitpoint(ctx, id)
	}
	return nil, errs.ErrWaitpointNotFound
}

// CreateManualWaitpoint 创建由外部调用完成的 waitpoint，CompletedAfter 为超时时间
func (e *Engine) CreateManualWaitpoint(ctx context.Context, req CreateWaitpointRequest) (*CreateWaitpointResult, error) {
	return e.createWaitpoint(ctx, waitpoint.TypeManual, req)
}

// CreateDateTimeWaitpoint 创建在 CompletedAfter 之后自动完成的 waitpoint
func (e *Engine) CreateDateTimeWaitpoint(ctx context.Context, req CreateWaitpointRequest) (*CreateWaitpointResult, error) {
	if req.CompletedAfter == nil {
		return nil, errs.NewValidationError("completedAfter is required for a datetime waitpoint")
	}
	res, err := e.createWaitpoint(ctx, waitpoint.TypeDateTime, req)
	if err != nil {
		return nil, err
	}
	if !res.Cached && !res.Waitpoint.CompletedAfter.After(e.now()) {
		wp, err := e.ResolveWaitpoint(ctx, res.Waitpoint.ID, waitpoint.Output{})
		if err != nil && !errors.Is(err, errs.ErrWaitpointAlreadyCompleted) {
			return nil, err
		}
		res.Waitpoint = wp
	}
	return res, nil
}

func (e *Engine) createWaitpoint(ctx context.Context, typ waitpoint.Type, req CreateWaitpointRequest) (*CreateWaitpointResult, error) {
	if req.EnvironmentID == "" {
		return nil, errs.NewValidationError("environment is required")
	}
	if req.IdempotencyKey != "" {
		existing, err := e.waitpoints.FindByIdempotencyKey(ctx, req.EnvironmentID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		} else if existing != nil {
			return &CreateWaitpointResult{Waitpoint: existing, Cached: true}, nil
		}
	}

	id := idx.NextID()
	wp := &waitpoint.Waitpoint{
		ID:             id,
		FriendlyID:     idx.Friendly(waitpointIDPrefix, id),
		CreatedAt:      e.now(),
		Type:           typ,
		Status:         waitpoint.StatusPending,
		EnvironmentID:  req.EnvironmentID,
		CompletedAfter: req.CompletedAfter,
		IdempotencyKey: req.IdempotencyKey,
	}
	err := e.waitpoints.Create(ctx, wp)
	if errors.Is(err, errs.ErrDuplicateRecord) && req.IdempotencyKey != "" {
		existing, err := e.waitpoints.FindByIdempotencyKey(ctx, req.EnvironmentID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		} else if existing != nil {
			return &CreateWaitpointResult{Waitpoint: existing, Cached: true}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	e.logger.Debug("waitpoint created", zap.Uint64("waitpoint_id", wp.ID), zap.String("type", string(typ)))
	return &CreateWaitpointResult{Waitpoint: wp}, nil
}
