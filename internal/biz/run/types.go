package run

// Status run 状态
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusExecuting        Status = "EXECUTING"
	StatusExecutingWaiting Status = "EXECUTING_WAITING"
	StatusPendingCancel    Status = "PENDING_CANCEL"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusCrashed          Status = "CRASHED"
	StatusCanceled         Status = "CANCELED"
)

// IsTerminal 终态不再迁移
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCrashed, StatusCanceled:
		return true
	}
	return false
}

// SnapshotEvent 快照产生的原因
type SnapshotEvent string

const (
	EventCreated             SnapshotEvent = "created"
	EventDequeued            SnapshotEvent = "dequeued"
	EventAttemptStarted      SnapshotEvent = "attempt_started"
	EventRetryScheduled      SnapshotEvent = "retry_scheduled"
	EventHeartbeatTimeout    SnapshotEvent = "heartbeat_timeout"
	EventWaitpointBlocked    SnapshotEvent = "waitpoint_blocked"
	EventWaitpointsResolved  SnapshotEvent = "waitpoints_resolved"
	EventResumed             SnapshotEvent = "resumed"
	EventCancelRequested     SnapshotEvent = "cancel_requested"
	EventCanceled            SnapshotEvent = "canceled"
	EventCompleted           SnapshotEvent = "completed"
	EventFailed              SnapshotEvent = "failed"
	EventCrashed             SnapshotEvent = "crashed"
	EventMaxDurationExceeded SnapshotEvent = "max_duration_exceeded"
)

// IdempotencyKeyScope 幂等键作用域
type IdempotencyKeyScope string

const (
	ScopeGlobal  IdempotencyKeyScope = "global"
	ScopeRun     IdempotencyKeyScope = "run"
	ScopeAttempt IdempotencyKeyScope = "attempt"
)

// ErrorType 失败类型
type ErrorType string

const (
	ErrorTypeBuilt    ErrorType = "BUILT_IN_ERROR"
	ErrorTypeString   ErrorType = "STRING_ERROR"
	ErrorTypeCustom   ErrorType = "CUSTOM_ERROR"
	ErrorTypeInternal ErrorType = "INTERNAL_ERROR"
	ErrorTypeCrash    ErrorType = "CRASH"
)
