package run

import (
	"fmt"
	"time"

	"github.com/jobs/runengine/internal/retry"
)

type TaskRun struct {
	ID                  uint64
	FriendlyID          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	TaskIdentifier      string
	Status              Status
	QueueName           string
	EnvironmentID       string
	OrganizationID      string
	Priority            int
	AttemptNumber       int
	MaxAttempts         int
	Retry               retry.Config
	MaxDurationSeconds  int
	IdempotencyKey      string
	IdempotencyKeyScope IdempotencyKeyScope
	// ActiveIdempotencyKey 非终态时等于作用域展开后的幂等键，终态或重置后为空
	ActiveIdempotencyKey string
	OneTimeUseToken      string
	Payload              []byte
	PayloadType          string
	Output               []byte
	OutputType           string
	Error                *RunError
	ParentRunID          uint64
	RootRunID            uint64
	LatestSnapshotID     uint64
	HeartbeatDeadline    *time.Time
	WorkerInstanceID     string
	AttemptStartedAt     *time.Time
	AttemptDeadline      *time.Time
	DelayUntil           *time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	Tags                 []string
	Metadata             map[string]any
}

// RunError 失败原因
type RunError struct {
	Type       ErrorType `json:"type"`
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace,omitempty"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// IsCrash CRASH 与 INTERNAL_ERROR 以 CRASHED 结束
func (e *RunError) IsCrash() bool {
	return e != nil && (e.Type == ErrorTypeCrash || e.Type == ErrorTypeInternal)
}

// ScopedIdempotencyKey 按作用域展开幂等键，run/attempt 作用域绑定父 run
func ScopedIdempotencyKey(key string, scope IdempotencyKeyScope, parentRunID uint64, parentAttempt int) string {
	if key == "" {
		return ""
	}
	switch scope {
	case ScopeRun:
		return fmt.Sprintf("run:%d:%s", parentRunID, key)
	case ScopeAttempt:
		return fmt.Sprintf("attempt:%d:%d:%s", parentRunID, parentAttempt, key)
	default:
		return "global:" + key
	}
}

// CompletedWaitpoint 恢复执行时交给 worker 的 waitpoint 结果
type CompletedWaitpoint struct {
	ID            uint64    `json:"id,string"`
	FriendlyID    string    `json:"friendlyId"`
	Type          string    `json:"type"`
	CompletedAt   time.Time `json:"completedAt"`
	Output        string    `json:"output,omitempty"`
	OutputIsError bool      `json:"outputIsError,omitempty"`
	CompletedBy   uint64    `json:"completedByRunId,omitempty,string"`
}

// Snapshot 执行快照，只插入不修改
type Snapshot struct {
	ID                  uint64
	RunID               uint64
	Version             int
	Status              Status
	Event               SnapshotEvent
	AttemptNumber       int
	WorkerInstanceID    string
	RunnerID            string
	CompletedWaitpoints []CompletedWaitpoint
	Description         string
	ConcurrencyReleased bool
	CreatedAt           time.Time
}

// RunPatch 与快照推进一起写入的 run 字段
type RunPatch struct {
	Status               *Status
	AttemptNumber        *int
	HeartbeatDeadline    **time.Time
	WorkerInstanceID     *string
	AttemptStartedAt     **time.Time
	AttemptDeadline      **time.Time
	StartedAt            **time.Time
	CompletedAt          **time.Time
	Output               *[]byte
	OutputType           *string
	Error                **RunError
	ActiveIdempotencyKey *string
	DelayUntil           **time.Time
}

func NewRunPatch() *RunPatch {
	return &RunPatch{}
}

func (p *RunPatch) WithStatus(status Status) *RunPatch {
	p.Status = &status
	return p
}

func (p *RunPatch) WithAttemptNumber(n int) *RunPatch {
	p.AttemptNumber = &n
	return p
}

func (p *RunPatch) WithHeartbeatDeadline(t *time.Time) *RunPatch {
	p.HeartbeatDeadline = &t
	return p
}

func (p *RunPatch) WithWorkerInstanceID(id string) *RunPatch {
	p.WorkerInstanceID = &id
	return p
}

func (p *RunPatch) WithAttemptStartedAt(t *time.Time) *RunPatch {
	p.AttemptStartedAt = &t
	return p
}

func (p *RunPatch) WithAttemptDeadline(t *time.Time) *RunPatch {
	p.AttemptDeadline = &t
	return p
}

func (p *RunPatch) WithStartedAt(t *time.Time) *RunPatch {
	p.StartedAt = &t
	return p
}

func (p *RunPatch) WithCompletedAt(t *time.Time) *RunPatch {
	p.CompletedAt = &t
	return p
}

func (p *RunPatch) WithOutput(output []byte, outputType string) *RunPatch {
	p.Output = &output
	p.OutputType = &outputType
	return p
}

func (p *RunPatch) WithError(e *RunError) *RunPatch {
	p.Error = &e
	return p
}

// ClearActiveIdempotencyKey 终态时释放幂等键
func (p *RunPatch) ClearActiveIdempotencyKey() *RunPatch {
	empty := ""
	p.ActiveIdempotencyKey = &empty
	return p
}

func (p *RunPatch) WithDelayUntil(t *time.Time) *RunPatch {
	p.DelayUntil = &t
	return p
}

// Apply 把 patch 应用到内存中的 run
func (p *RunPatch) Apply(r *TaskRun) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.AttemptNumber != nil {
		r.AttemptNumber = *p.AttemptNumber
	}
	if p.HeartbeatDeadline != nil {
		r.HeartbeatDeadline = *p.HeartbeatDeadline
	}
	if p.WorkerInstanceID != nil {
		r.WorkerInstanceID = *p.WorkerInstanceID
	}
	if p.AttemptStartedAt != nil {
		r.AttemptStartedAt = *p.AttemptStartedAt
	}
	if p.AttemptDeadline != nil {
		r.AttemptDeadline = *p.AttemptDeadline
	}
	if p.StartedAt != nil {
		r.StartedAt = *p.StartedAt
	}
	if p.CompletedAt != nil {
		r.CompletedAt = *p.CompletedAt
	}
	if p.Output != nil {
		r.Output = *p.Output
	}
	if p.OutputType != nil {
		r.OutputType = *p.OutputType
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.ActiveIdempotencyKey != nil {
		r.ActiveIdempotencyKey = *p.ActiveIdempotencyKey
	}
	if p.DelayUntil != nil {
		r.DelayUntil = *p.DelayUntil
	}
}
