package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/dto/mapper"
	"github.com/jobs/runengine/internal/dto/request"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/engine"
)

type IWaitpointAPI interface {
	// CreateToken 创建手动 waitpoint
	// @POST(api/v1/waitpoints/tokens)
	CreateToken(ctx *gin.Context, req request.CreateTokenRequest) (response.WaitpointResponse, error)

	// GetToken 获取 waitpoint
	// @GET(api/v1/waitpoints/tokens/{waitpointId})
	GetToken(ctx *gin.Context) (response.WaitpointResponse, error)

	// CompleteToken 完成 waitpoint
	// 每个 waitpoint 只能完成一次
	// @POST(api/v1/waitpoints/tokens/{waitpointId}/complete)
	CompleteToken(ctx *gin.Context, req request.CompleteTokenRequest) (response.WaitpointResponse, error)
}

var _ IWaitpointAPI = (*WaitpointAPI)(nil)

type WaitpointAPI struct {
	engine *engine.Engine
}

func NewWaitpointAPI(e *engine.Engine) *WaitpointAPI {
	return &WaitpointAPI{engine: e}
}

func (a *WaitpointAPI) Bind(r gin.IRouter) {
	r.POST("/waitpoints/tokens", withJSON(a.CreateToken))
	r.GET("/waitpoints/tokens/:waitpointId", withContext(a.GetToken))
	r.POST("/waitpoints/tokens/:waitpointId/complete", withJSON(a.CompleteToken))
}

func (a *WaitpointAPI) CreateToken(ctx *gin.Context, req request.CreateTokenRequest) (response.WaitpointResponse, error) {
	timeout, err := parseTimeOrDuration(req.Timeout, time.Now())
	if err != nil {
		return response.WaitpointResponse{}, err
	}
	res, err := a.engine.CreateManualWaitpoint(ctx.Request.Context(), engine.CreateWaitpointRequest{
		EnvironmentID:  middleware.CurrentEnvironment(ctx).ID,
		IdempotencyKey: req.IdempotencyKey,
		CompletedAfter: timeout,
	})
	if err != nil {
		return response.WaitpointResponse{}, err
	}
	resp := mapper.ToWaitpointResponse(res.Waitpoint)
	resp.IsCached = res.Cached
	return resp, nil
}

func (a *WaitpointAPI) waitpointFromPath(ctx *gin.Context) (*waitpoint.Waitpoint, error) {
	id, err := parseWaitpointID(ctx.Param("waitpointId"))
	if err != nil {
		return nil, err
	}
	wp, err := a.engine.GetWaitpoint(ctx.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if wp.EnvironmentID != middleware.CurrentEnvironment(ctx).ID {
		return nil, errWaitpointNotInEnvironment
	}
	return wp, nil
}

func (a *WaitpointAPI) GetToken(ctx *gin.Context) (response.WaitpointResponse, error) {
	wp, err := a.waitpointFromPath(ctx)
	if err != nil {
		return response.WaitpointResponse{}, err
	}
	return mapper.ToWaitpointResponse(wp), nil
}

func (a *WaitpointAPI) CompleteToken(ctx *gin.Context, req request.CompleteTokenRequest) (response.WaitpointResponse, error) {
	wp, err := a.waitpointFromPath(ctx)
	if err != nil {
		return response.WaitpointResponse{}, err
	}
	completed, err := a.engine.ResolveWaitpoint(ctx.Request.Context(), wp.ID, waitpoint.Output{Value: string(req.Data)})
	if err != nil {
		return response.WaitpointResponse{}, err
	}
	return mapper.ToWaitpointResponse(completed), nil
}
