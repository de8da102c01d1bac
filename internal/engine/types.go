package engine

import (
	"time"

	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/retry"
	"github.com/samber/mo"
)

type TriggerRequest struct {
	EnvironmentID                 string
	OrganizationID                string
	TaskIdentifier                string
	Payload                       []byte
	PayloadType                   string
	Queue                         string
	Priority                      int
	IdempotencyKey                string
	IdempotencyKeyScope           run.IdempotencyKeyScope
	FailOnDuplicateIdempotencyKey bool
	OneTimeUseToken               string
	MaxAttempts                   int
	Retry                         *retry.Config
	MaxDurationSeconds            int
	DelayUntil                    *time.Time
	ParentRunID                   uint64
	// ResumeParentOnCompletion 父 run 阻塞在子 run 上，子 run 结束后恢复
	ResumeParentOnCompletion bool
	Tags                     []string
	Metadata                 map[string]any
}

type TriggerResult struct {
	Run *run.TaskRun
	// Cached 命中幂等键，返回的是已有的 run
	Cached bool
	// Waitpoint 父 run 等待的 RUN waitpoint
	Waitpoint *waitpoint.Waitpoint
}

type DequeueRequest struct {
	ConsumerID       string
	EnvironmentID    string
	WorkerInstanceID string
	RunnerID         string
	MaxRuns          int
}

// DequeuedRun 交给 worker 执行的 run
type DequeuedRun struct {
	Run                 *run.TaskRun
	Snapshot            *run.Snapshot
	CompletedWaitpoints []run.CompletedWaitpoint
}

type StartResult struct {
	Run      *run.TaskRun
	Snapshot *run.Snapshot
}

// Completion worker 上报的 attempt 结果
type Completion struct {
	OK           bool
	Output       []byte
	OutputType   string
	Error        *run.RunError
	SkipRetrying bool
}

type AttemptStatus string

const (
	AttemptRunFinished  AttemptStatus = "RUN_FINISHED"
	AttemptRetryQueued  AttemptStatus = "RETRY_QUEUED"
	AttemptRunCancelled AttemptStatus = "RUN_CANCELLED"
)

type CompleteResult struct {
	AttemptStatus AttemptStatus
	Run           *run.TaskRun
	Snapshot      *run.Snapshot
	RetryDelay    time.Duration
}

type BlockRequest struct {
	RunID        uint64
	SnapshotID   uint64 // 0 表示不校验
	WaitpointIDs []uint64
	// ReleaseConcurrency 覆盖队列的 ReleaseConcurrencyOnWaitpoint 设置
	ReleaseConcurrency mo.Option[bool]
}

type BlockResult struct {
	Blocked  bool
	Snapshot *run.Snapshot
	// CompletedWaitpoints 未阻塞时直接返回已完成的 waitpoint 结果
	CompletedWaitpoints []run.CompletedWaitpoint
}

type CreateWaitpointRequest struct {
	EnvironmentID  string
	IdempotencyKey string
	// CompletedAfter MANUAL 类型为超时时间，DATETIME 类型为触发时间
	CompletedAfter *time.Time
}

type CreateWaitpointResult struct {
	Waitpoint *waitpoint.Waitpoint
	Cached    bool
}

type ResetIdempotencyKeyRequest struct {
	EnvironmentID string
	Key           string
	Scope         run.IdempotencyKeyScope
	ParentRunID   uint64
	ParentAttempt int
}

type WorkerGroup struct {
	Name           string
	EnvironmentID  string
	OrganizationID string
}

type TaskDefinition struct {
	Identifier         string
	Queue              string
	ConcurrencyLimit   *int
	Retry              *retry.Config
	MaxDurationSeconds int
}

type ConnectRequest struct {
	Group             WorkerGroup
	InstanceID        string
	InstanceName      string
	DeploymentVersion string
	Tasks             []TaskDefinition
	Metadata          map[string]any
}

type ConnectResult struct {
	WorkerGroup      WorkerGroup
	WorkerInstanceID string
}
