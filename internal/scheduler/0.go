package scheduler

import (
	"context"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/jobqueue"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(
	ProvideScheduler,
	wire.Bind(new(Triggerer), new(*engine.Engine)),
)

// Triggerer 创建 run，由 engine 实现
type Triggerer interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*engine.TriggerResult, error)
}

// ProvideScheduler 不带 Option 的构造函数，供 wire 使用
func ProvideScheduler(cfg config.Config, repo domain.Repo, jobs *jobqueue.Queue, trigger Triggerer, logger *zap.Logger) *Scheduler {
	return New(cfg, repo, jobs, trigger, logger)
}
