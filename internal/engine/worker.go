package engine

import (
	"context"

	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/biz/workerinstance"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// ConnectWorker 登记 worker 实例及其版本中的任务，带并发上限的任务队列一并写入
func (e *Engine) ConnectWorker(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.Group.EnvironmentID == "" {
		return nil, errs.NewValidationError("worker group environment is required")
	}
	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = idx.NewUUID()
	}
	name := req.InstanceName
	if name == "" {
		name = instanceID
	}

	now := e.now()
	err := e.workers.Register(ctx, &workerinstance.WorkerInstance{
		ID:                instanceID,
		CreatedAt:         now,
		Name:              name,
		WorkerGroup:       req.Group.Name,
		EnvironmentID:     req.Group.EnvironmentID,
		DeploymentVersion: req.DeploymentVersion,
		LastHeartbeatAt:   now,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	tasks := lo.Map(req.Tasks, func(def TaskDefinition, _ int) *task.Task {
		q := def.Queue
		if q == "" {
			q = queue.TaskQueueName(def.Identifier)
		}
		return &task.Task{
			Identifier:         def.Identifier,
			QueueName:          q,
			Retry:              def.Retry,
			MaxDurationSeconds: def.MaxDurationSeconds,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	})
	if err := e.tasks.Register(ctx, req.Group.EnvironmentID, req.DeploymentVersion, tasks); err != nil {
		return nil, errs.NewValidationError("%v", err)
	}
	for i, def := range req.Tasks {
		if def.ConcurrencyLimit == nil {
			continue
		}
		_, err := e.queues.Upsert(ctx, &queue.UpsertRequest{
			EnvironmentID:    req.Group.EnvironmentID,
			Name:             tasks[i].QueueName,
			ConcurrencyLimit: mo.Some(*def.ConcurrencyLimit),
		}, e.defaultConcurrency)
		if err != nil {
			return nil, err
		}
	}

	e.logger.Info("worker connected",
		zap.String("worker_instance", instanceID),
		zap.String("group", req.Group.Name),
		zap.String("version", req.DeploymentVersion),
		zap.Int("tasks", len(tasks)))
	return &ConnectResult{WorkerGroup: req.Group, WorkerInstanceID: instanceID}, nil
}

// HeartbeatWorker 刷新实例心跳，离线的实例会重新上线
func (e *Engine) HeartbeatWorker(ctx context.Context, instanceID string) error {
	return e.workers.Heartbeat(ctx, instanceID, e.now())
}
