package waitpointrepo

import (
	"time"

	domain "github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
)

type WaitpointPo struct {
	commonrepo.Model
	FriendlyID       string        `gorm:"column:friendly_id;size:64;uniqueIndex;not null"`
	Type             domain.Type   `gorm:"column:type;size:16;not null"`
	Status           domain.Status `gorm:"column:status;size:16;not null;index:idx_waitpoint_due,priority:1"`
	EnvironmentID    string        `gorm:"column:environment_id;size:64;not null;uniqueIndex:uk_waitpoint_idempotency,priority:1"`
	IdempotencyKey   *string       `gorm:"column:idempotency_key;size:255;uniqueIndex:uk_waitpoint_idempotency,priority:2"`
	CompletedByRunID uint64        `gorm:"column:completed_by_run_id;index"`
	CompletedAfter   *time.Time    `gorm:"column:completed_after;index:idx_waitpoint_due,priority:2"`
	Output           string        `gorm:"column:output;type:text"`
	OutputIsError    bool          `gorm:"column:output_is_error;not null;default:false"`
	CompletedAt      *time.Time    `gorm:"column:completed_at"`
}

func (po *WaitpointPo) TableName() string {
	return "waitpoints"
}

// RunWaitpointPo run 与阻塞它的 waitpoint 的关联
type RunWaitpointPo struct {
	ID          uint64    `gorm:"primarykey"`
	RunID       uint64    `gorm:"column:run_id;not null;uniqueIndex:uk_run_waitpoint,priority:1"`
	WaitpointID uint64    `gorm:"column:waitpoint_id;not null;uniqueIndex:uk_run_waitpoint,priority:2;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (po *RunWaitpointPo) TableName() string {
	return "task_run_waitpoints"
}
