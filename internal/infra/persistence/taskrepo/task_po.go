package taskrepo

import (
	domain "github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type TaskPo struct {
	commonrepo.Model
	EnvironmentID      string            `gorm:"column:environment_id;size:64;not null;uniqueIndex:uk_task_identifier,priority:1"`
	Identifier         string            `gorm:"column:identifier;size:255;not null;uniqueIndex:uk_task_identifier,priority:2"` // 任务标识
	QueueName          string            `gorm:"column:queue_name;size:255"`                                                    // 默认队列
	Retry              datatypes.JSON    `gorm:"column:retry"`                                                                  // 默认重试策略
	MaxDurationSeconds int               `gorm:"column:max_duration_seconds;default:0"`
	DeploymentVersion  string            `gorm:"column:deployment_version;size:64"`
	Status             domain.TaskStatus `gorm:"column:status;size:16;not null;default:'active';index"`
}

func (t *TaskPo) TableName() string {
	return "tasks"
}
