package schedulerepo

import (
	"time"

	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type SchedulePo struct {
	commonrepo.Model
	FriendlyID       string            `gorm:"column:friendly_id;size:64;uniqueIndex;not null"`
	TaskIdentifier   string            `gorm:"column:task_identifier;size:255;not null;index"`
	EnvironmentID    string            `gorm:"column:environment_id;size:64;not null;uniqueIndex:uk_schedule_dedup,priority:1"`
	OrganizationID   string            `gorm:"column:organization_id;size:64"`
	Cron             string            `gorm:"column:cron;size:100;not null"`
	Timezone         string            `gorm:"column:timezone;size:64"`
	Payload          datatypes.JSONMap `gorm:"column:payload"`
	Active           bool              `gorm:"column:active;not null;default:true;index:idx_schedule_due,priority:1"`
	DeduplicationKey *string           `gorm:"column:deduplication_key;size:255;uniqueIndex:uk_schedule_dedup,priority:2"`
	NextRunAt        *time.Time        `gorm:"column:next_run_at;index:idx_schedule_due,priority:2"`
	LastRunAt        *time.Time        `gorm:"column:last_run_at"`
}

func (po *SchedulePo) TableName() string {
	return "task_schedules"
}

// TickPo 每个计划时间点只允许一条记录
type TickPo struct {
	ID           uint64    `gorm:"primarykey"`
	ScheduleID   uint64    `gorm:"column:schedule_id;not null;uniqueIndex:uk_schedule_tick,priority:1"`
	ScheduleTime time.Time `gorm:"column:schedule_time;not null;uniqueIndex:uk_schedule_tick,priority:2"`
	RunID        uint64    `gorm:"column:run_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (po *TickPo) TableName() string {
	return "task_schedule_ticks"
}
