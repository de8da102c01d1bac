package queue

import (
	"time"

	"github.com/jobs/runengine/internal/ratelimit"
)

// Definition 队列定义。运行中的计数由 run 队列维护，这里只有配置
type Definition struct {
	ID                            uint64
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
	EnvironmentID                 string
	Name                          string
	ConcurrencyLimit              int
	RateLimit                     *ratelimit.Config
	Weight                        int
	ReleaseConcurrencyOnWaitpoint bool
	Paused                        bool
}

// TaskQueueName 未指定队列时使用 task/<identifier>
func TaskQueueName(taskIdentifier string) string {
	return "task/" + taskIdentifier
}
