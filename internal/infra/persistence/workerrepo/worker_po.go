package workerrepo

import (
	"time"

	domain "github.com/jobs/runengine/internal/biz/workerinstance"
	"gorm.io/datatypes"
)

type WorkerInstance struct {
	ID                string            `gorm:"column:id;size:64;primarykey"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	Name              string            `gorm:"column:name;size:255;not null"`
	WorkerGroup       string            `gorm:"column:worker_group;size:255"`
	EnvironmentID     string            `gorm:"column:environment_id;size:64;not null;index:idx_worker_env_status"`
	DeploymentVersion string            `gorm:"column:deployment_version;size:64"`
	Status            domain.Status     `gorm:"column:status;size:16;not null;index:idx_worker_env_status"`
	LastHeartbeatAt   time.Time         `gorm:"column:last_heartbeat_at;index"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata"`
}

func (WorkerInstance) TableName() string {
	return "worker_instances"
}
