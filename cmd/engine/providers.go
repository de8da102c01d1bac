package main

import (
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/fairqueue"
	"github.com/jobs/runengine/internal/jobqueue"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/jobs/runengine/internal/ratelimit"
	"github.com/jobs/runengine/internal/retry"
	"github.com/jobs/runengine/internal/runlock"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

// ProvideRedisClient 未启用 redis 时返回 nil，此时协调组件均使用进程内实现
func ProvideRedisClient(cfg config.Config) redis.UniversalClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func ProvideDatabaseConfig(cfg config.Config) config.DatabaseConfig {
	return cfg.Database
}

func ProvideRunQueueConfig(cfg config.Config) config.RunQueueConfig {
	return cfg.RunQueue
}

func ProvideRunQueueStore(cfg config.Config, rdb redis.UniversalClient) runqueue.Store {
	if rdb == nil {
		return runqueue.NewMemoryStore()
	}
	return runqueue.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
}

func ProvideLimiter(cfg config.Config, rdb redis.UniversalClient) ratelimit.Limiter {
	if rdb == nil {
		return ratelimit.NewMemoryLimiter()
	}
	return ratelimit.NewRedisLimiter(rdb, cfg.Redis.KeyPrefix)
}

func ProvideRunQueue(
	cfg config.Config,
	store runqueue.Store,
	limiter ratelimit.Limiter,
	defs *queue.Cache,
	manager *fairqueue.Manager,
	logger *zap.Logger,
) *runqueue.RunQueue {
	return runqueue.NewRunQueue(store, limiter, defs, manager, cfg.RunQueue, logger.Named("runqueue"))
}

func ProvideLocker(cfg config.Config, rdb redis.UniversalClient, logger *zap.Logger) *runlock.Locker {
	var backend runlock.Backend = runlock.NewMemoryBackend()
	if rdb != nil {
		backend = runlock.NewRedisBackend(rdb, cfg.Redis.KeyPrefix)
	}
	return runlock.NewLocker(backend, runlock.Config{
		TTL:            cfg.Engine.LockTTL,
		AcquireTimeout: cfg.Engine.LockAcquireTimeout,
	}, logger.Named("runlock"))
}

// ProvideEventBus 多实例部署时通过 redis 广播，RedisBus 由 App 启动
func ProvideEventBus(cfg config.Config, rdb redis.UniversalClient, logger *zap.Logger) eventbus.Bus {
	source := idx.NewUUID()
	if rdb == nil {
		return eventbus.NewMemoryBus(source)
	}
	return eventbus.NewRedisBus(rdb, cfg.Redis.KeyPrefix, source, logger.Named("eventbus"))
}

func ProvideJobQueue(cfg config.Config, rdb redis.UniversalClient, logger *zap.Logger) *jobqueue.Queue {
	var store jobqueue.Store = jobqueue.NewMemoryStore()
	if rdb != nil {
		store = jobqueue.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	}
	return jobqueue.New(store, jobqueue.Options{
		QueueID: "schedule",
		Slots:   cfg.Schedule.JobQueueSlots,
		Workers: cfg.Schedule.JobWorkers,
		Retry: retry.Config{
			MaxAttempts:    cfg.Schedule.MaxAttempts,
			MinTimeoutInMs: 1000,
			MaxTimeoutInMs: 60000,
			Factor:         2,
			Randomize:      true,
		},
		DedupTTL:          cfg.Schedule.DedupTTL,
		VisibilityTimeout: cfg.Schedule.JobVisibilityTimeout,
	}, logger.Named("jobqueue"))
}
