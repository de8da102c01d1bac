package runrepo

import (
	"time"

	domain "github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/retry"
	"gorm.io/datatypes"
)

type TaskRunPo struct {
	commonrepo.Model
	FriendlyID          string                           `gorm:"column:friendly_id;size:64;uniqueIndex;not null"`
	TaskIdentifier      string                           `gorm:"column:task_identifier;size:255;not null;index"`
	Status              domain.Status                    `gorm:"column:status;size:32;not null;index"`
	QueueName           string                           `gorm:"column:queue_name;size:255;not null"`
	EnvironmentID       string                           `gorm:"column:environment_id;size:64;not null;uniqueIndex:uk_run_active_idempotency,priority:1;uniqueIndex:uk_run_one_time_token,priority:1"`
	OrganizationID      string                           `gorm:"column:organization_id;size:64"`
	Priority            int                              `gorm:"column:priority;not null;default:0"`
	AttemptNumber       int                              `gorm:"column:attempt_number;not null;default:0"`
	MaxAttempts         int                              `gorm:"column:max_attempts;not null;default:1"`
	Retry               datatypes.JSONType[retry.Config] `gorm:"column:retry"`
	MaxDurationSeconds  int                              `gorm:"column:max_duration_seconds;not null;default:0"`
	IdempotencyKey      string                           `gorm:"column:idempotency_key;size:255;index"`
	IdempotencyKeyScope domain.IdempotencyKeyScope       `gorm:"column:idempotency_key_scope;size:16"`
	// 终态时置空，唯一索引只约束非终态 run
	ActiveIdempotencyKey *string           `gorm:"column:active_idempotency_key;size:512;uniqueIndex:uk_run_active_idempotency,priority:2"`
	OneTimeUseToken      *string           `gorm:"column:one_time_use_token;size:255;uniqueIndex:uk_run_one_time_token,priority:2"`
	Payload              string            `gorm:"column:payload;type:text"`
	PayloadType          string            `gorm:"column:payload_type;size:64"`
	Output               string            `gorm:"column:output;type:text"`
	OutputType           string            `gorm:"column:output_type;size:64"`
	Error                datatypes.JSON    `gorm:"column:error"`
	ParentRunID          uint64            `gorm:"column:parent_run_id;index"`
	RootRunID            uint64            `gorm:"column:root_run_id"`
	LatestSnapshotID     uint64            `gorm:"column:latest_snapshot_id;not null"`
	HeartbeatDeadline    *time.Time        `gorm:"column:heartbeat_deadline;index"`
	WorkerInstanceID     string            `gorm:"column:worker_instance_id;size:64;index"`
	AttemptStartedAt     *time.Time        `gorm:"column:attempt_started_at"`
	AttemptDeadline      *time.Time        `gorm:"column:attempt_deadline;index"`
	DelayUntil           *time.Time        `gorm:"column:delay_until"`
	StartedAt            *time.Time        `gorm:"column:started_at"`
	CompletedAt          *time.Time        `gorm:"column:completed_at"`
	Tags                 datatypes.JSON    `gorm:"column:tags"`
	Metadata             datatypes.JSONMap `gorm:"column:metadata"`
}

func (po *TaskRunPo) TableName() string {
	return "task_runs"
}

type SnapshotPo struct {
	ID                  uint64               `gorm:"primarykey;autoIncrement:false"`
	RunID               uint64               `gorm:"column:run_id;not null;uniqueIndex:uk_snapshot_run_version,priority:1"`
	Version             int                  `gorm:"column:version;not null;uniqueIndex:uk_snapshot_run_version,priority:2"`
	Status              domain.Status        `gorm:"column:status;size:32;not null"`
	Event               domain.SnapshotEvent `gorm:"column:event;size:64;not null"`
	AttemptNumber       int                  `gorm:"column:attempt_number;not null;default:0"`
	WorkerInstanceID    string               `gorm:"column:worker_instance_id;size:64"`
	RunnerID            string               `gorm:"column:runner_id;size:128"`
	CompletedWaitpoints datatypes.JSON       `gorm:"column:completed_waitpoints"`
	Description         string               `gorm:"column:description;size:512"`
	ConcurrencyReleased bool                 `gorm:"column:concurrency_released;not null;default:false"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (po *SnapshotPo) TableName() string {
	return "run_execution_snapshots"
}
