//go:build wireinject
// +build wireinject

package main

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

import (
	"github.com/google/wire"
	"github.com/jobs/runengine/internal/api"
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/biz/workerinstance"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/fairqueue"
	"github.com/jobs/runengine/internal/infra/persistence/queuerepo"
	"github.com/jobs/runengine/internal/infra/persistence/runrepo"
	"github.com/jobs/runengine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/runengine/internal/infra/persistence/taskrepo"
	"github.com/jobs/runengine/internal/infra/persistence/waitpointrepo"
	"github.com/jobs/runengine/internal/infra/persistence/workerrepo"
	"github.com/jobs/runengine/internal/orm"
	"github.com/jobs/runengine/internal/scheduler"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

func InitializeApp(logger *zap.Logger, cfg config.Config) (*App, error) {
	wire.Build(
		NewApp,

		ProvideDatabaseConfig,
		ProvideRunQueueConfig,
		ProvideRedisClient,
		ProvideRunQueueStore,
		ProvideLimiter,
		ProvideRunQueue,
		ProvideLocker,
		ProvideEventBus,
		ProvideJobQueue,

		// other
		orm.Provider,
		fairqueue.Provider,
		engine.Provider,
		scheduler.Provider,

		// http api providers
		api.Provider,

		// biz providers
		queue.Provider,
		task.Provider,
		workerinstance.Provider,
		schedule.Provider,

		// infra providers
		runrepo.Provider,
		waitpointrepo.Provider,
		queuerepo.Provider,
		taskrepo.Provider,
		workerrepo.Provider,
		schedulerepo.Provider,
	)
	return nil, nil
}
