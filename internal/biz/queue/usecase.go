package queue

import (
	"context"
	"errors"

	"github.com/google/wire"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/jobs/runengine/internal/ratelimit"
	"github.com/samber/mo"
)

var Provider = wire.NewSet(NewUsecase, NewCache)

type Usecase struct {
	repo Repo
	bus  eventbus.Bus
}

func NewUsecase(repo Repo, bus eventbus.Bus) *Usecase {
	return &Usecase{repo: repo, bus: bus}
}

type UpsertRequest struct {
	EnvironmentID                 string
	Name                          string
	ConcurrencyLimit              mo.Option[int]
	RateLimit                     mo.Option[*ratelimit.Config]
	Weight                        mo.Option[int]
	ReleaseConcurrencyOnWaitpoint mo.Option[bool]
	Paused                        mo.Option[bool]
}

// Upsert 创建或更新队列定义，并通知其它实例刷新缓存
func (u *Usecase) Upsert(ctx context.Context, req *UpsertRequest, defaultLimit int) (*Definition, error) {
	if req.Name == "" {
		return nil, errs.NewValidationError("queue name is required")
	}
	if limit, ok := req.ConcurrencyLimit.Get(); ok && limit < 0 {
		return nil, errs.NewValidationError("concurrency limit must be >= 0, got %d", limit)
	}
	if rl, ok := req.RateLimit.Get(); ok && rl != nil {
		if _, err := ratelimit.Parse(*rl); err != nil {
			return nil, errs.NewValidationError("invalid rate limit: %v", err)
		}
	}

	def, err := u.repo.Get(ctx, req.EnvironmentID, req.Name)
	if err != nil {
		return nil, err
	}
	if def == nil {
		def = &Definition{
			ID:               idx.NextID(),
			EnvironmentID:    req.EnvironmentID,
			Name:             req.Name,
			ConcurrencyLimit: defaultLimit,
			Weight:           1,
		}
	}
	def.ConcurrencyLimit = req.ConcurrencyLimit.OrElse(def.ConcurrencyLimit)
	def.RateLimit = req.RateLimit.OrElse(def.RateLimit)
	def.Weight = req.Weight.OrElse(def.Weight)
	def.ReleaseConcurrencyOnWaitpoint = req.ReleaseConcurrencyOnWaitpoint.OrElse(def.ReleaseConcurrencyOnWaitpoint)
	def.Paused = req.Paused.OrElse(def.Paused)
	if def.Weight <= 0 {
		def.Weight = 1
	}

	if err := u.repo.Upsert(ctx, def); err != nil {
		return nil, err
	}
	_ = u.bus.Publish(ctx, eventbus.Event{
		Type:          eventbus.EventQueueUpdated,
		EnvironmentID: def.EnvironmentID,
		Queue:         def.Name,
	})
	if !def.Paused {
		// 解除暂停或放宽并发后唤醒等待出队的 worker
		_ = u.bus.Publish(ctx, eventbus.Event{Type: eventbus.EventRunEnqueued, EnvironmentID: def.EnvironmentID, Queue: def.Name})
	}
	return def, nil
}

func (u *Usecase) Get(ctx context.Context, environmentID, name string) (*Definition, error) {
	def, err := u.repo.Get(ctx, environmentID, name)
	if err != nil {
		return nil, err
	} else if def == nil {
		return nil, errs.ErrQueueNotFound
	}
	return def, nil
}

// Ensure 队列不存在时按默认值创建
func (u *Usecase) Ensure(ctx context.Context, environmentID, name string, defaultLimit int) (*Definition, error) {
	def, err := u.Get(ctx, environmentID, name)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, errs.ErrQueueNotFound) {
		return nil, err
	}
	return u.Upsert(ctx, &UpsertRequest{EnvironmentID: environmentID, Name: name}, defaultLimit)
}
