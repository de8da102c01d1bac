package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/dto/mapper"
	"github.com/jobs/runengine/internal/dto/request"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/samber/mo"
)

type IScheduleAPI interface {
	// Create 创建计划
	// 相同去重键的计划已存在时更新它
	// @POST(api/v1/schedules)
	Create(ctx *gin.Context, req request.CreateScheduleRequest) (response.ScheduleResponse, error)

	// List 计划列表
	// @GET(api/v1/schedules)
	List(ctx *gin.Context, req request.ListSchedulesRequest) ([]response.ScheduleResponse, error)

	// Delete 删除计划
	// @DELETE(api/v1/schedules/{id})
	Delete(ctx *gin.Context) (response.OKResponse, error)
}

var _ IScheduleAPI = (*ScheduleAPI)(nil)

type ScheduleAPI struct {
	schedules *schedule.Usecase
}

func NewScheduleAPI(schedules *schedule.Usecase) *ScheduleAPI {
	return &ScheduleAPI{schedules: schedules}
}

func (a *ScheduleAPI) Bind(r gin.IRouter) {
	r.POST("/schedules", withJSON(a.Create))
	r.GET("/schedules", withQuery(a.List))
	r.DELETE("/schedules/:id", withContext(a.Delete))
}

func (a *ScheduleAPI) Create(ctx *gin.Context, req request.CreateScheduleRequest) (response.ScheduleResponse, error) {
	env := middleware.CurrentEnvironment(ctx)
	s, err := a.schedules.Create(ctx.Request.Context(), &schedule.CreateRequest{
		EnvironmentID:    env.ID,
		OrganizationID:   env.OrganizationID,
		TaskIdentifier:   req.Task,
		Cron:             req.Cron,
		Timezone:         req.Timezone,
		Payload:          req.Payload,
		DeduplicationKey: req.DeduplicationKey,
	})
	if err != nil {
		return response.ScheduleResponse{}, err
	}
	return mapper.ToScheduleResponse(s), nil
}

func (a *ScheduleAPI) List(ctx *gin.Context, req request.ListSchedulesRequest) ([]response.ScheduleResponse, error) {
	filter := &schedule.Filter{EnvironmentID: mo.Some(middleware.CurrentEnvironment(ctx).ID)}
	if req.Task != "" {
		filter.TaskIdentifier = mo.Some(req.Task)
	}
	list, err := a.schedules.List(ctx.Request.Context(), filter)
	if err != nil {
		return nil, err
	}
	return mapper.ToScheduleResponses(list), nil
}

func (a *ScheduleAPI) Delete(ctx *gin.Context) (response.OKResponse, error) {
	s, err := a.schedules.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		return response.OKResponse{}, err
	}
	if s.EnvironmentID != middleware.CurrentEnvironment(ctx).ID {
		return response.OKResponse{}, errScheduleNotInEnvironment
	}
	if err := a.schedules.Delete(ctx.Request.Context(), s.FriendlyID); err != nil {
		return response.OKResponse{}, err
	}
	return response.OKResponse{OK: true}, nil
}
