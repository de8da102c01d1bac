package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

func validateTrigger(req *TriggerRequest) error {
	if req.EnvironmentID == "" {
		return errs.NewValidationError("environment is required")
	}
	if strings.TrimSpace(req.TaskIdentifier) == "" {
		return errs.NewValidationError("task identifier is required")
	}
	if req.Priority < 0 || req.Priority > runqueue.MaxPriority {
		return errs.NewValidationError("priority must be between 0 and %d, got %d", runqueue.MaxPriority, req.Priority)
	}
	if req.MaxAttempts < 0 {
		return errs.NewValidationError("maxAttempts must be >= 0, got %d", req.MaxAttempts)
	}
	if req.MaxDurationSeconds < 0 {
		return errs.NewValidationError("maxDuration must be >= 0, got %d", req.MaxDurationSeconds)
	}
	switch req.IdempotencyKeyScope {
	case "", run.ScopeGlobal:
	case run.ScopeRun, run.ScopeAttempt:
		if req.ParentRunID == 0 && req.IdempotencyKey != "" {
			return errs.NewValidationError("idempotency key scope %q requires a parent run", req.IdempotencyKeyScope)
		}
	default:
		return errs.NewValidationError("unknown idempotency key scope %q", req.IdempotencyKeyScope)
	}
	if len(req.Payload) > 0 && (req.PayloadType == "" || req.PayloadType == "application/json") && !json.Valid(req.Payload) {
		return errs.NewValidationError("payload is not valid JSON")
	}
	if req.ResumeParentOnCompletion && req.ParentRunID == 0 {
		return errs.NewValidationError("resumeParentOnCompletion requires a parent run")
	}
	return nil
}

// Trigger 创建 run 并入队。相同作用域下的幂等键命中未结束的 run 时直接返回该 run
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if err := validateTrigger(&req); err != nil {
		return nil, err
	}
	if req.IdempotencyKeyScope == "" {
		req.IdempotencyKeyScope = run.ScopeGlobal
	}

	var parent *run.TaskRun
	if req.ParentRunID != 0 {
		p, err := e.runs.GetByID(ctx, req.ParentRunID)
		if err != nil {
			return nil, err
		} else if p == nil || p.EnvironmentID != req.EnvironmentID {
			return nil, errs.NewValidationError("parent run %d not found", req.ParentRunID)
		}
		parent = p
		if req.ResumeParentOnCompletion {
			if err := canBlock(parent); err != nil {
				return nil, err
			}
		}
	}

	r, err := e.buildRun(ctx, &req, parent)
	if err != nil {
		return nil, err
	}

	if req.OneTimeUseToken != "" {
		used, err := e.runs.ExistsOneTimeUseToken(ctx, req.EnvironmentID, req.OneTimeUseToken)
		if err != nil {
			return nil, err
		} else if used {
			return nil, &errs.RunOneTimeUseTokenError{Token: req.OneTimeUseToken}
		}
	}

	if r.ActiveIdempotencyKey != "" {
		existing, err := e.runs.FindByActiveIdempotencyKey(ctx, r.EnvironmentID, r.ActiveIdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return e.cachedTrigger(ctx, &req, existing)
		}
	}

	snap := &run.Snapshot{
		ID:          idx.NextID(),
		RunID:       r.ID,
		Version:     1,
		Status:      run.StatusPending,
		Event:       run.EventCreated,
		Description: "run created",
		CreatedAt:   r.CreatedAt,
	}
	if err := e.runs.Create(ctx, r, snap); err != nil {
		if !errors.Is(err, errs.ErrDuplicateRecord) {
			return nil, err
		}
		return e.resolveTriggerConflict(ctx, &req, r)
	}

	result := &TriggerResult{Run: r}
	if req.ResumeParentOnCompletion {
		wp, err := e.blockParentOn(ctx, parent, r)
		if err != nil {
			e.abandonTrigger(ctx, r, err)
			return nil, err
		}
		result.Waitpoint = wp
	}

	availableAt := r.CreatedAt
	if r.DelayUntil != nil && r.DelayUntil.After(availableAt) {
		availableAt = *r.DelayUntil
	}
	if err := e.queue.Enqueue(ctx, e.entryFor(r, r.CreatedAt, availableAt, false)); err != nil {
		e.abandonTrigger(ctx, r, err)
		return nil, fmt.Errorf("enqueue run %d: %w", r.ID, err)
	}
	e.publishEnqueued(ctx, r)

	e.logger.Info("run triggered",
		zap.Uint64("run_id", r.ID),
		zap.String("task", r.TaskIdentifier),
		zap.String("queue", r.QueueName),
		zap.String("env", r.EnvironmentID))
	return result, nil
}

// buildRun 合并请求与任务目录中的默认值
func (e *Engine) buildRun(ctx context.Context, req *TriggerRequest, parent *run.TaskRun) (*run.TaskRun, error) {
	def, err := e.tasks.Get(ctx, req.EnvironmentID, req.TaskIdentifier)
	if err != nil {
		return nil, err
	}

	queueName := req.Queue
	if queueName == "" && def != nil {
		queueName = def.QueueName
	}
	if queueName == "" {
		queueName = queue.TaskQueueName(req.TaskIdentifier)
	}

	retryCfg := e.defaultRetry()
	if def != nil && def.Retry != nil {
		retryCfg = *def.Retry
	}
	if req.Retry != nil {
		retryCfg = *req.Retry
	}
	maxAttempts := retryCfg.Normalize().MaxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	retryCfg.MaxAttempts = maxAttempts

	maxDuration := int(e.cfg.DefaultMaxDuration.Seconds())
	if def != nil && def.MaxDurationSeconds > 0 {
		maxDuration = def.MaxDurationSeconds
	}
	if req.MaxDurationSeconds > 0 {
		maxDuration = req.MaxDurationSeconds
	}

	id := idx.NextID()
	r := &run.TaskRun{
		ID:                  id,
		FriendlyID:          idx.Friendly(runIDPrefix, id),
		CreatedAt:           e.now(),
		TaskIdentifier:      req.TaskIdentifier,
		Status:              run.StatusPending,
		QueueName:           queueName,
		EnvironmentID:       req.EnvironmentID,
		OrganizationID:      req.OrganizationID,
		Priority:            req.Priority,
		MaxAttempts:         maxAttempts,
		Retry:               retryCfg,
		MaxDurationSeconds:  maxDuration,
		IdempotencyKey:      req.IdempotencyKey,
		IdempotencyKeyScope: req.IdempotencyKeyScope,
		OneTimeUseToken:     req.OneTimeUseToken,
		Payload:             req.Payload,
		PayloadType:         req.PayloadType,
		DelayUntil:          req.DelayUntil,
		Tags:                req.Tags,
		Metadata:            req.Metadata,
		RootRunID:           id,
	}
	if r.PayloadType == "" && len(r.Payload) > 0 {
		r.PayloadType = "application/json"
	}
	if parent != nil {
		r.ParentRunID = parent.ID
		r.RootRunID = parent.RootRunID
		if r.RootRunID == 0 {
			r.RootRunID = parent.ID
		}
		if r.OrganizationID == "" {
			r.OrganizationID = parent.OrganizationID
		}
	}
	parentID, parentAttempt := uint64(0), 0
	if parent != nil {
		parentID, parentAttempt = parent.ID, parent.AttemptNumber
	}
	r.ActiveIdempotencyKey = run.ScopedIdempotencyKey(req.IdempotencyKey, req.IdempotencyKeyScope, parentID, parentAttempt)
	return r, nil
}

func (e *Engine) cachedTrigger(ctx context.Context, req *TriggerRequest, existing *run.TaskRun) (*TriggerResult, error) {
	if req.FailOnDuplicateIdempotencyKey {
		return nil, &errs.RunDuplicateIdempotencyKeyError{IdempotencyKey: req.IdempotencyKey, RunID: existing.ID}
	}
	result := &TriggerResult{Run: existing, Cached: true}
	if req.ResumeParentOnCompletion {
		parent, err := e.runs.GetByID(ctx, req.ParentRunID)
		if err != nil {
			return nil, err
		}
		wp, err := e.blockParentOn(ctx, parent, existing)
		if err != nil {
			return nil, err
		}
		result.Waitpoint = wp
	}
	e.logger.Debug("idempotency key hit",
		zap.String("key", existing.ActiveIdempotencyKey),
		zap.Uint64("run_id", existing.ID))
	return result, nil
}

// resolveTriggerConflict 唯一索引冲突：并发触发了相同幂等键，或一次性 token 已被使用
func (e *Engine) resolveTriggerConflict(ctx context.Context, req *TriggerRequest, r *run.TaskRun) (*TriggerResult, error) {
	if r.ActiveIdempotencyKey != "" {
		existing, err := e.runs.FindByActiveIdempotencyKey(ctx, r.EnvironmentID, r.ActiveIdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return e.cachedTrigger(ctx, req, existing)
		}
	}
	if req.OneTimeUseToken != "" {
		used, err := e.runs.ExistsOneTimeUseToken(ctx, req.EnvironmentID, req.OneTimeUseToken)
		if err != nil {
			return nil, err
		} else if used {
			return nil, &errs.RunOneTimeUseTokenError{Token: req.OneTimeUseToken}
		}
	}
	return nil, &errs.RunDuplicateIdempotencyKeyError{IdempotencyKey: req.IdempotencyKey}
}

// canBlock 父 run 必须处于执行中才能等待 child
func canBlock(parent *run.TaskRun) error {
	switch parent.Status {
	case run.StatusExecuting, run.StatusExecutingWaiting:
		return nil
	}
	return &errs.ServiceValidationError{
		Msg:    "run " + parent.FriendlyID + " cannot block in status " + string(parent.Status),
		Status: http.StatusConflict,
	}
}

// abandonTrigger 已写入的 run 无法继续时取消它，释放幂等键
func (e *Engine) abandonTrigger(ctx context.Context, r *run.TaskRun, cause error) {
	if _, err := e.CancelRun(context.WithoutCancel(ctx), r.ID, "trigger failed: "+cause.Error()); err != nil {
		e.logger.Error("failed to cancel abandoned run", zap.Uint64("run_id", r.ID), zap.Error(err))
	}
}

// blockParentOn 创建等待 child 结束的 RUN waitpoint，并让父 run 阻塞在上面
func (e *Engine) blockParentOn(ctx context.Context, parent, child *run.TaskRun) (*waitpoint.Waitpoint, error) {
	id := idx.NextID()
	wp := &waitpoint.Waitpoint{
		ID:               id,
		FriendlyID:       idx.Friendly(waitpointIDPrefix, id),
		CreatedAt:        e.now(),
		Type:             waitpoint.TypeRun,
		Status:           waitpoint.StatusPending,
		EnvironmentID:    child.EnvironmentID,
		CompletedByRunID: child.ID,
	}
	if err := e.waitpoints.Create(ctx, wp); err != nil {
		return nil, err
	}
	// child 可能已经结束
	if child.Status.IsTerminal() {
		if _, err := e.waitpoints.Complete(ctx, wp.ID, runOutput(child), e.now()); err != nil {
			return nil, err
		}
	}
	_, err := e.WaitForWaitpoint(ctx, BlockRequest{
		RunID:              parent.ID,
		WaitpointIDs:       []uint64{wp.ID},
		ReleaseConcurrency: mo.None[bool](),
	})
	if err != nil {
		return nil, fmt.Errorf("block parent run %d: %w", parent.ID, err)
	}
	return wp, nil
}

// ResetIdempotencyKey 释放幂等键，之后相同的键会创建新的 run。返回受影响的 run 数
func (e *Engine) ResetIdempotencyKey(ctx context.Context, req ResetIdempotencyKeyRequest) (int64, error) {
	if req.Key == "" {
		return 0, errs.NewValidationError("idempotency key is required")
	}
	scope := req.Scope
	if scope == "" {
		scope = run.ScopeGlobal
	}
	key := run.ScopedIdempotencyKey(req.Key, scope, req.ParentRunID, req.ParentAttempt)
	n, err := e.runs.ClearActiveIdempotencyKey(ctx, req.EnvironmentID, key)
	if err != nil {
		return 0, err
	}
	e.logger.Info("idempotency key reset", zap.String("key", key), zap.Int64("runs", n))
	return n, nil
}
