package engine

import (
	"github.com/google/wire"
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/biz/workerinstance"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/runlock"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(ProvideEngine)

// ProvideEngine 不带 Option 的构造函数，供 wire 使用
func ProvideEngine(
	cfg config.Config,
	logger *zap.Logger,
	runs run.Repo,
	waitpoints waitpoint.Repo,
	tx commonrepo.Transaction,
	runQueue *runqueue.RunQueue,
	queueDefs *queue.Cache,
	queues *queue.Usecase,
	tasks *task.Usecase,
	workers *workerinstance.Usecase,
	locker *runlock.Locker,
	bus eventbus.Bus,
) *Engine {
	return New(cfg, logger, runs, waitpoints, tx, runQueue, queueDefs, queues, tasks, workers, locker, bus)
}
