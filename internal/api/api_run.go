package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/dto/mapper"
	"github.com/jobs/runengine/internal/dto/request"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/engine"
)

type IRunAPI interface {
	// Trigger 触发任务
	// 创建一个新的 run，命中幂等键时返回已有 run
	// @POST(api/v1/tasks/{taskIdentifier}/trigger)
	Trigger(ctx *gin.Context, req request.TriggerRequest) (response.RunResponse, error)

	// Get 获取 run
	// @GET(api/v1/runs/{runId})
	Get(ctx *gin.Context) (response.RunResponse, error)

	// Cancel 取消 run
	// 排队中的 run 立即取消，执行中的 run 由 worker 协作结束
	// @POST(api/v1/runs/{runId}/cancel)
	Cancel(ctx *gin.Context, req request.CancelRunRequest) (response.RunResponse, error)

	// ResetIdempotencyKey 重置幂等键
	// @POST(api/v1/idempotency-keys/reset)
	ResetIdempotencyKey(ctx *gin.Context, req request.ResetIdempotencyKeyRequest) (response.ResetIdempotencyKeyResponse, error)
}

var _ IRunAPI = (*RunAPI)(nil)

type RunAPI struct {
	engine *engine.Engine
}

func NewRunAPI(e *engine.Engine) *RunAPI {
	return &RunAPI{engine: e}
}

func (a *RunAPI) Bind(r gin.IRouter) {
	r.POST("/tasks/:taskIdentifier/trigger", withJSON(a.Trigger))
	r.GET("/runs/:runId", withContext(a.Get))
	r.POST("/runs/:runId/cancel", withJSON(a.Cancel))
	r.POST("/idempotency-keys/reset", withJSON(a.ResetIdempotencyKey))
}

func parseScope(s string) (run.IdempotencyKeyScope, error) {
	switch scope := run.IdempotencyKeyScope(s); scope {
	case "":
		return run.ScopeGlobal, nil
	case run.ScopeGlobal, run.ScopeRun, run.ScopeAttempt:
		return scope, nil
	default:
		return "", errs.NewValidationError("invalid idempotency key scope %q", s)
	}
}

func (a *RunAPI) Trigger(ctx *gin.Context, req request.TriggerRequest) (response.RunResponse, error) {
	env := middleware.CurrentEnvironment(ctx)
	opts := req.Options

	scope, err := parseScope(opts.IdempotencyKeyScope)
	if err != nil {
		return response.RunResponse{}, err
	}
	parentRunID, err := parseOptionalRunID(opts.ParentRunID)
	if err != nil {
		return response.RunResponse{}, err
	}
	delayUntil, err := parseTimeOrDuration(opts.Delay, time.Now())
	if err != nil {
		return response.RunResponse{}, err
	}

	payloadType := ""
	if len(req.Payload) > 0 {
		payloadType = "application/json"
	}
	res, err := a.engine.Trigger(ctx.Request.Context(), engine.TriggerRequest{
		EnvironmentID:                 env.ID,
		OrganizationID:                env.OrganizationID,
		TaskIdentifier:                ctx.Param("taskIdentifier"),
		Payload:                       req.Payload,
		PayloadType:                   payloadType,
		Queue:                         opts.Queue,
		Priority:                      opts.Priority,
		IdempotencyKey:                opts.IdempotencyKey,
		IdempotencyKeyScope:           scope,
		FailOnDuplicateIdempotencyKey: opts.FailOnDuplicateIdempotencyKey,
		OneTimeUseToken:               opts.OneTimeUseToken,
		MaxAttempts:                   opts.MaxAttempts,
		Retry:                         opts.Retry,
		MaxDurationSeconds:            opts.MaxDuration,
		DelayUntil:                    delayUntil,
		ParentRunID:                   parentRunID,
		ResumeParentOnCompletion:      opts.ResumeParentOnCompletion,
		Tags:                          opts.Tags,
		Metadata:                      opts.Metadata,
	})
	if err != nil {
		return response.RunResponse{}, err
	}
	return mapper.ToTriggerResponse(res), nil
}

func (a *RunAPI) runFromPath(ctx *gin.Context) (*run.TaskRun, error) {
	r, err := a.engine.GetRunByFriendlyID(ctx.Request.Context(), ctx.Param("runId"))
	if err != nil {
		return nil, err
	}
	if r.EnvironmentID != middleware.CurrentEnvironment(ctx).ID {
		return nil, errRunNotInEnvironment
	}
	return r, nil
}

func (a *RunAPI) Get(ctx *gin.Context) (response.RunResponse, error) {
	r, err := a.runFromPath(ctx)
	if err != nil {
		return response.RunResponse{}, err
	}
	return mapper.ToRunResponse(r), nil
}

func (a *RunAPI) Cancel(ctx *gin.Context, req request.CancelRunRequest) (response.RunResponse, error) {
	r, err := a.runFromPath(ctx)
	if err != nil {
		return response.RunResponse{}, err
	}
	canceled, err := a.engine.CancelRun(ctx.Request.Context(), r.ID, req.Reason)
	if err != nil {
		return response.RunResponse{}, err
	}
	return mapper.ToRunResponse(canceled), nil
}

func (a *RunAPI) ResetIdempotencyKey(ctx *gin.Context, req request.ResetIdempotencyKeyRequest) (response.ResetIdempotencyKeyResponse, error) {
	scope, err := parseScope(req.Scope)
	if err != nil {
		return response.ResetIdempotencyKeyResponse{}, err
	}
	parentRunID, err := parseOptionalRunID(req.ParentRunID)
	if err != nil {
		return response.ResetIdempotencyKeyResponse{}, err
	}
	n, err := a.engine.ResetIdempotencyKey(ctx.Request.Context(), engine.ResetIdempotencyKeyRequest{
		EnvironmentID: middleware.CurrentEnvironment(ctx).ID,
		Key:           req.Key,
		Scope:         scope,
		ParentRunID:   parentRunID,
		ParentAttempt: req.ParentAttempt,
	})
	if err != nil {
		return response.ResetIdempotencyKeyResponse{}, err
	}
	return response.ResetIdempotencyKeyResponse{Reset: n}, nil
}
