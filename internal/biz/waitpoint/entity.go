package waitpoint

import "time"

type Type string

const (
	TypeRun      Type = "RUN"
	TypeDateTime Type = "DATETIME"
	TypeManual   Type = "MANUAL"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

type Waitpoint struct {
	ID               uint64
	FriendlyID       string
	CreatedAt        time.Time
	Type             Type
	Status           Status
	EnvironmentID    string
	CompletedByRunID uint64 // RUN 类型：等待的子 run
	CompletedAfter   *time.Time
	IdempotencyKey   string
	Output           string
	OutputIsError    bool
	CompletedAt      *time.Time
}

func (w *Waitpoint) IsCompleted() bool {
	return w.Status == StatusCompleted
}

// Output 完成 waitpoint 时写入的结果
type Output struct {
	Value   string
	IsError bool
}
