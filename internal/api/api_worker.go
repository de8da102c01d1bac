package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/dto/mapper"
	"github.com/jobs/runengine/internal/dto/request"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/jobs/runengine/pkg/config"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

type IWorkerAPI interface {
	// Connect worker 连接
	// 注册 worker 实例与任务目录
	// @POST(worker-actions/connect)
	Connect(ctx *gin.Context, req request.ConnectRequest) (response.ConnectResponse, error)

	// Dequeue 出队
	// 没有可执行的 run 时长轮询等待
	// @GET(worker-actions/dequeue)
	Dequeue(ctx *gin.Context, req request.DequeueRequest) ([]response.DequeuedRunResponse, error)

	// Heartbeat worker 心跳
	// @POST(worker-actions/heartbeat)
	Heartbeat(ctx *gin.Context) (response.OKResponse, error)

	// HeartbeatRun run 心跳
	// 延长执行中 run 的可见性超时
	// @POST(worker-actions/runs/{runId}/snapshots/{snapshotId}/heartbeat)
	HeartbeatRun(ctx *gin.Context) (response.SnapshotResponse, error)

	// LatestSnapshot 最新快照
	// @GET(worker-actions/runs/{runId}/snapshots/latest)
	LatestSnapshot(ctx *gin.Context) (response.SnapshotResponse, error)

	// Wait 阻塞在 waitpoint 上
	// @POST(worker-actions/runs/{runId}/snapshots/{snapshotId}/wait)
	Wait(ctx *gin.Context, req request.WaitRequest) (response.WaitResponse, error)

	// StartAttempt 开始 attempt
	// @POST(attempt/start)
	StartAttempt(ctx *gin.Context, req request.StartAttemptRequest) (response.ExecutionResponse, error)

	// CompleteAttempt 上报 attempt 结果
	// @POST(attempt/complete)
	CompleteAttempt(ctx *gin.Context, req request.CompleteAttemptRequest) (response.CompleteResultResponse, error)
}

var _ IWorkerAPI = (*WorkerAPI)(nil)

type WorkerAPI struct {
	engine *engine.Engine
	bus    eventbus.Bus
	cfg    config.EngineConfig
	logger *zap.Logger
}

func NewWorkerAPI(e *engine.Engine, bus eventbus.Bus, cfg config.Config, logger *zap.Logger) *WorkerAPI {
	return &WorkerAPI{engine: e, bus: bus, cfg: cfg.Engine, logger: logger.Named("worker-api")}
}

func (a *WorkerAPI) Bind(r gin.IRouter) {
	r.POST("/worker-actions/connect", withJSON(a.Connect))
	r.GET("/worker-actions/dequeue", withQuery(a.Dequeue))
	r.POST("/worker-actions/dequeue", withQuery(a.Dequeue))
	r.POST("/worker-actions/heartbeat", withContext(a.Heartbeat))
	r.POST("/worker-actions/runs/:runId/snapshots/:snapshotId/heartbeat", withContext(a.HeartbeatRun))
	r.GET("/worker-actions/runs/:runId/snapshots/latest", withContext(a.LatestSnapshot))
	r.POST("/worker-actions/runs/:runId/snapshots/:snapshotId/wait", withJSON(a.Wait))
	r.POST("/attempt/start", withJSON(a.StartAttempt))
	r.POST("/attempt/complete", withJSON(a.CompleteAttempt))
}

func (a *WorkerAPI) Connect(ctx *gin.Context, req request.ConnectRequest) (response.ConnectResponse, error) {
	group := middleware.WorkerGroup(ctx)
	instanceID := lo.CoalesceOrEmpty(req.InstanceID, ctx.GetHeader(middleware.HeaderWorkerInstanceID))
	res, err := a.engine.ConnectWorker(ctx.Request.Context(), engine.ConnectRequest{
		Group: engine.WorkerGroup{
			Name:           group.Name,
			EnvironmentID:  group.EnvironmentID,
			OrganizationID: group.OrganizationID,
		},
		InstanceID:        instanceID,
		InstanceName:      req.Name,
		DeploymentVersion: req.DeploymentVersion,
		Tasks: lo.Map(req.Tasks, func(t request.TaskDefinition, _ int) engine.TaskDefinition {
			return engine.TaskDefinition{
				Identifier:         t.ID,
				Queue:              t.Queue,
				ConcurrencyLimit:   t.ConcurrencyLimit,
				Retry:              t.Retry,
				MaxDurationSeconds: t.MaxDurationSeconds,
			}
		}),
		Metadata: req.Metadata,
	})
	if err != nil {
		return response.ConnectResponse{}, err
	}
	return mapper.ToConnectResponse(res), nil
}

// Dequeue 先订阅再出队，避免入队通知在两者之间丢失
func (a *WorkerAPI) Dequeue(ctx *gin.Context, req request.DequeueRequest) ([]response.DequeuedRunResponse, error) {
	group := middleware.WorkerGroup(ctx)
	instanceID := ctx.GetHeader(middleware.HeaderWorkerInstanceID)
	dr := engine.DequeueRequest{
		ConsumerID:       lo.CoalesceOrEmpty(instanceID, idx.NewUUID()),
		EnvironmentID:    group.EnvironmentID,
		WorkerInstanceID: instanceID,
		RunnerID:         req.RunnerID,
		MaxRuns:          req.MaxRuns,
	}

	wait := a.cfg.DequeueLongPoll
	if req.WaitMs != nil {
		wait = min(time.Duration(*req.WaitMs)*time.Millisecond, a.cfg.DequeueLongPoll)
	}
	notify, cancel := eventbus.Notify(a.bus, func(ev eventbus.Event) bool {
		return ev.Type == eventbus.EventRunEnqueued && ev.EnvironmentID == group.EnvironmentID
	})
	defer cancel()

	c := ctx.Request.Context()
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		runs, err := a.engine.Dequeue(c, dr)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 || wait <= 0 {
			return mapper.ToDequeuedRunResponses(runs), nil
		}
		select {
		case <-notify:
		case <-deadline.C:
			return []response.DequeuedRunResponse{}, nil
		case <-c.Done():
			return nil, c.Err()
		}
	}
}

func (a *WorkerAPI) Heartbeat(ctx *gin.Context) (response.OKResponse, error) {
	// 未携带实例 id 的心跳不刷新任何实例
	instanceID := ctx.GetHeader(middleware.HeaderWorkerInstanceID)
	if instanceID == "" {
		return response.OKResponse{OK: true}, nil
	}
	if err := a.engine.HeartbeatWorker(ctx.Request.Context(), instanceID); err != nil {
		return response.OKResponse{}, err
	}
	return response.OKResponse{OK: true}, nil
}

// runFromPath 读取路径中的 run，并确认属于当前 worker group 的环境
func (a *WorkerAPI) runFromPath(ctx *gin.Context) (*run.TaskRun, error) {
	runID, err := parseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, err
	}
	return a.runInEnvironment(ctx, runID)
}

func (a *WorkerAPI) runInEnvironment(ctx *gin.Context, runID uint64) (*run.TaskRun, error) {
	r, err := a.engine.GetRun(ctx.Request.Context(), runID)
	if err != nil {
		return nil, err
	}
	if r.EnvironmentID != middleware.WorkerGroup(ctx).EnvironmentID {
		return nil, errRunNotInEnvironment
	}
	return r, nil
}

func (a *WorkerAPI) HeartbeatRun(ctx *gin.Context) (response.SnapshotResponse, error) {
	r, err := a.runFromPath(ctx)
	if err != nil {
		return response.SnapshotResponse{}, err
	}
	snapshotID, err := parseSnapshotID(ctx.Param("snapshotId"))
	if err != nil {
		return response.SnapshotResponse{}, err
	}
	snap, err := a.engine.HeartbeatRun(ctx.Request.Context(), r.ID, snapshotID)
	if err != nil {
		return response.SnapshotResponse{}, err
	}
	return mapper.ToSnapshotResponse(snap), nil
}

func (a *WorkerAPI) LatestSnapshot(ctx *gin.Context) (response.SnapshotResponse, error) {
	r, err := a.runFromPath(ctx)
	if err != nil {
		return response.SnapshotResponse{}, err
	}
	snap, err := a.engine.GetLatestSnapshot(ctx.Request.Context(), r.ID)
	if err != nil {
		return response.SnapshotResponse{}, err
	}
	return mapper.ToSnapshotResponse(snap), nil
}

func (a *WorkerAPI) Wait(ctx *gin.Context, req request.WaitRequest) (response.WaitResponse, error) {
	r, err := a.runFromPath(ctx)
	if err != nil {
		return response.WaitResponse{}, err
	}
	snapshotID, err := parseSnapshotID(ctx.Param("snapshotId"))
	if err != nil {
		return response.WaitResponse{}, err
	}
	ids := make([]uint64, 0, len(req.WaitpointIDs))
	for _, s := range req.WaitpointIDs {
		id, err := parseWaitpointID(s)
		if err != nil {
			return response.WaitResponse{}, err
		}
		ids = append(ids, id)
	}
	release := mo.None[bool]()
	if req.ReleaseConcurrency != nil {
		release = mo.Some(*req.ReleaseConcurrency)
	}
	res, err := a.engine.WaitForWaitpoint(ctx.Request.Context(), engine.BlockRequest{
		RunID:              r.ID,
		SnapshotID:         snapshotID,
		WaitpointIDs:       ids,
		ReleaseConcurrency: release,
	})
	if err != nil {
		return response.WaitResponse{}, err
	}
	return mapper.ToWaitResponse(res), nil
}

func (a *WorkerAPI) StartAttempt(ctx *gin.Context, req request.StartAttemptRequest) (response.ExecutionResponse, error) {
	runID, snapshotID, err := a.attemptIDs(ctx, req.RunID, req.SnapshotID)
	if err != nil {
		return response.ExecutionResponse{}, err
	}
	res, err := a.engine.StartRunAttempt(ctx.Request.Context(), runID, snapshotID)
	if err != nil {
		return response.ExecutionResponse{}, err
	}
	return mapper.ToExecutionResponse(res), nil
}

func (a *WorkerAPI) CompleteAttempt(ctx *gin.Context, req request.CompleteAttemptRequest) (response.CompleteResultResponse, error) {
	runID, snapshotID, err := a.attemptIDs(ctx, req.RunID, req.SnapshotID)
	if err != nil {
		return response.CompleteResultResponse{}, err
	}
	res, err := a.engine.CompleteRunAttempt(ctx.Request.Context(), runID, snapshotID, engine.Completion{
		OK:           req.Completion.OK,
		Output:       []byte(req.Completion.Output),
		OutputType:   req.Completion.OutputType,
		Error:        req.Completion.Error,
		SkipRetrying: req.Completion.SkipRetrying,
	})
	if err != nil {
		return response.CompleteResultResponse{}, err
	}
	return mapper.ToCompleteResultResponse(res), nil
}

func (a *WorkerAPI) attemptIDs(ctx *gin.Context, rawRunID, rawSnapshotID string) (uint64, uint64, error) {
	runID, err := parseRunID(rawRunID)
	if err != nil {
		return 0, 0, err
	}
	snapshotID, err := parseSnapshotID(rawSnapshotID)
	if err != nil {
		return 0, 0, err
	}
	if _, err := a.runInEnvironment(ctx, runID); err != nil {
		return 0, 0, err
	}
	return runID, snapshotID, nil
}
