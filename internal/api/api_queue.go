package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/dto/mapper"
	"github.com/jobs/runengine/internal/dto/request"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/ratelimit"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"github.com/samber/mo"
)

type IQueueAPI interface {
	// Upsert 创建或更新队列
	// 队列名可以包含 /，例如 task/email.send
	// @PUT(api/v1/queues/{name})
	Upsert(ctx *gin.Context, req request.UpsertQueueRequest) (response.QueueResponse, error)

	// Get 获取队列定义与实时计数
	// @GET(api/v1/queues/{name})
	Get(ctx *gin.Context) (response.QueueResponse, error)
}

var _ IQueueAPI = (*QueueAPI)(nil)

type QueueAPI struct {
	queues       *queue.Usecase
	runQueue     *runqueue.RunQueue
	defaultLimit int
}

func NewQueueAPI(queues *queue.Usecase, runQueue *runqueue.RunQueue, cfg config.Config) *QueueAPI {
	return &QueueAPI{queues: queues, runQueue: runQueue, defaultLimit: cfg.RunQueue.DefaultConcurrencyLimit}
}

func (a *QueueAPI) Bind(r gin.IRouter) {
	r.PUT("/queues/*name", withJSON(a.Upsert))
	r.GET("/queues/*name", withContext(a.Get))
}

func queueName(ctx *gin.Context) string {
	return strings.TrimPrefix(ctx.Param("name"), "/")
}

func optional[T any](p *T) mo.Option[T] {
	if p == nil {
		return mo.None[T]()
	}
	return mo.Some(*p)
}

func (a *QueueAPI) Upsert(ctx *gin.Context, req request.UpsertQueueRequest) (response.QueueResponse, error) {
	env := middleware.CurrentEnvironment(ctx)
	rateLimit := mo.None[*ratelimit.Config]()
	if req.RateLimit != nil {
		rateLimit = mo.Some(req.RateLimit)
	}
	def, err := a.queues.Upsert(ctx.Request.Context(), &queue.UpsertRequest{
		EnvironmentID:                 env.ID,
		Name:                          queueName(ctx),
		ConcurrencyLimit:              optional(req.ConcurrencyLimit),
		RateLimit:                     rateLimit,
		Weight:                        optional(req.Weight),
		ReleaseConcurrencyOnWaitpoint: optional(req.ReleaseConcurrencyOnWaitpoint),
		Paused:                        optional(req.Paused),
	}, a.defaultLimit)
	if err != nil {
		return response.QueueResponse{}, err
	}
	return a.render(ctx, def)
}

func (a *QueueAPI) Get(ctx *gin.Context) (response.QueueResponse, error) {
	def, err := a.queues.Get(ctx.Request.Context(), middleware.CurrentEnvironment(ctx).ID, queueName(ctx))
	if err != nil {
		return response.QueueResponse{}, err
	}
	return a.render(ctx, def)
}

func (a *QueueAPI) render(ctx *gin.Context, def *queue.Definition) (response.QueueResponse, error) {
	c := ctx.Request.Context()
	running, err := a.runQueue.RunningCount(c, def.EnvironmentID, def.Name)
	if err != nil {
		return response.QueueResponse{}, err
	}
	queued, err := a.runQueue.GetQueueDepth(c, def.EnvironmentID, def.Name)
	if err != nil {
		return response.QueueResponse{}, err
	}
	return mapper.ToQueueResponse(def, running, queued), nil
}
