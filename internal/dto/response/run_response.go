package response

import (
	"time"

	"github.com/jobs/runengine/internal/biz/run"
)

type RunResponse struct {
	ID                 string         `json:"id"`
	RunID              uint64         `json:"runId,string"`
	TaskIdentifier     string         `json:"taskIdentifier"`
	Status             run.Status     `json:"status"`
	Queue              string         `json:"queue"`
	EnvironmentID      string         `json:"environmentId"`
	Priority           int            `json:"priority"`
	AttemptNumber      int            `json:"attemptNumber"`
	MaxAttempts        int            `json:"maxAttempts"`
	IdempotencyKey     string         `json:"idempotencyKey,omitempty"`
	Payload            string         `json:"payload,omitempty"`
	PayloadType        string         `json:"payloadType,omitempty"`
	Output             string         `json:"output,omitempty"`
	OutputType         string         `json:"outputType,omitempty"`
	Error              *run.RunError  `json:"error,omitempty"`
	ParentRunID        string         `json:"parentRunId,omitempty"`
	RootRunID          string         `json:"rootRunId,omitempty"`
	MaxDurationSeconds int            `json:"maxDuration,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	DelayUntil         *time.Time     `json:"delayUntil,omitempty"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	LatestSnapshotID   uint64         `json:"latestSnapshotId,string"`
	IsCached           bool           `json:"isCached,omitempty"`
	WaitpointID        string         `json:"waitpointId,omitempty"`
}

type SnapshotResponse struct {
	ID                  uint64                   `json:"id,string"`
	RunID               uint64                   `json:"runId,string"`
	Version             int                      `json:"version"`
	Status              run.Status               `json:"status"`
	Event               run.SnapshotEvent        `json:"event"`
	AttemptNumber       int                      `json:"attemptNumber"`
	Description         string                   `json:"description,omitempty"`
	CompletedWaitpoints []run.CompletedWaitpoint `json:"completedWaitpoints,omitempty"`
	CreatedAt           time.Time                `json:"createdAt"`
}

// DequeuedRunResponse 交给 worker 的一条 run
type DequeuedRunResponse struct {
	Run                 RunResponse              `json:"run"`
	Snapshot            SnapshotResponse         `json:"snapshot"`
	CompletedWaitpoints []run.CompletedWaitpoint `json:"completedWaitpoints"`
}

// ExecutionResponse attempt 开始后的执行数据
type ExecutionResponse struct {
	Run      RunResponse      `json:"run"`
	Snapshot SnapshotResponse `json:"snapshot"`
}

type CompleteResultResponse struct {
	AttemptStatus string           `json:"attemptStatus"`
	Run           RunResponse      `json:"run"`
	Snapshot      SnapshotResponse `json:"snapshot"`
	RetryDelayMs  int64            `json:"retryDelayMs,omitempty"`
}

type WaitResponse struct {
	Blocked             bool                     `json:"blocked"`
	Snapshot            *SnapshotResponse        `json:"snapshot,omitempty"`
	CompletedWaitpoints []run.CompletedWaitpoint `json:"completedWaitpoints,omitempty"`
}

type ResetIdempotencyKeyResponse struct {
	Reset int64 `json:"reset"`
}
