package request

import (
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/retry"
)

// ConnectRequest worker 连接时上报自身与任务目录
type ConnectRequest struct {
	InstanceID        string           `json:"instanceId"`
	Name              string           `json:"name"`
	DeploymentVersion string           `json:"deploymentVersion"`
	Tasks             []TaskDefinition `json:"tasks"`
	Metadata          map[string]any   `json:"metadata"`
}

type TaskDefinition struct {
	ID                 string        `json:"id" binding:"required"`
	Queue              string        `json:"queue"`
	ConcurrencyLimit   *int          `json:"concurrencyLimit"`
	Retry              *retry.Config `json:"retry"`
	MaxDurationSeconds int           `json:"maxDuration"`
}

// DequeueRequest 通过 query 传入
type DequeueRequest struct {
	RunnerID string `form:"runnerId"`
	MaxRuns  int    `form:"maxRuns"`
	WaitMs   *int   `form:"waitMs"`
}

type StartAttemptRequest struct {
	RunID      string `json:"runId" binding:"required"`
	SnapshotID string `json:"snapshotId" binding:"required"`
}

type CompleteAttemptRequest struct {
	RunID      string     `json:"runId" binding:"required"`
	SnapshotID string     `json:"snapshotId" binding:"required"`
	Completion Completion `json:"completion"`
}

type Completion struct {
	OK           bool          `json:"ok"`
	Output       string        `json:"output"`
	OutputType   string        `json:"outputType"`
	Error        *run.RunError `json:"error"`
	SkipRetrying bool          `json:"skipRetrying"`
}

// WaitRequest 阻塞在一组 waitpoint 上
type WaitRequest struct {
	WaitpointIDs       []string `json:"waitpointIds" binding:"required,min=1"`
	ReleaseConcurrency *bool    `json:"releaseConcurrency"`
}
