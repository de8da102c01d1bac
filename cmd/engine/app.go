package main

import (
	"context"

	"github.com/jobs/runengine/internal/api"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/orm"
	"github.com/jobs/runengine/internal/scheduler"
	"go.uber.org/zap"
)

// App 一个引擎实例的全部组件
type App struct {
	Server *api.Server

	storage   *orm.Storage
	bus       eventbus.Bus
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func NewApp(
	server *api.Server,
	storage *orm.Storage,
	bus eventbus.Bus,
	e *engine.Engine,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *App {
	return &App{
		Server:    server,
		storage:   storage,
		bus:       bus,
		engine:    e,
		scheduler: sched,
		logger:    logger,
	}
}

// Start 启动事件订阅与后台任务
func (a *App) Start(ctx context.Context) error {
	if rb, ok := a.bus.(*eventbus.RedisBus); ok {
		if err := rb.Start(ctx); err != nil {
			return err
		}
	}
	a.engine.Start()
	a.scheduler.Start()
	return nil
}

func (a *App) Stop() {
	a.scheduler.Stop()
	a.engine.Stop()
	if rb, ok := a.bus.(*eventbus.RedisBus); ok {
		rb.Stop()
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Error("Failed to close storage", zap.Error(err))
	}
}
