package queuerepo

import (
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/ratelimit"
	"gorm.io/datatypes"
)

type QueuePo struct {
	commonrepo.Model
	EnvironmentID                 string                                `gorm:"column:environment_id;size:64;not null;uniqueIndex:uk_queue_name,priority:1"`
	Name                          string                                `gorm:"column:name;size:255;not null;uniqueIndex:uk_queue_name,priority:2"`
	ConcurrencyLimit              int                                   `gorm:"column:concurrency_limit;not null"`
	RateLimit                     *datatypes.JSONType[ratelimit.Config] `gorm:"column:rate_limit"`
	Weight                        int                                   `gorm:"column:weight;not null;default:1"`
	ReleaseConcurrencyOnWaitpoint bool                                  `gorm:"column:release_concurrency_on_waitpoint;not null;default:false"`
	Paused                        bool                                  `gorm:"column:paused;not null;default:false"`
}

func (po *QueuePo) TableName() string {
	return "task_queues"
}
