package workerinstance

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

var Provider = wire.NewSet(NewUsecase)

type Usecase struct {
	repo Repo
}

func NewUsecase(repo Repo) *Usecase {
	return &Usecase{repo: repo}
}

func (u *Usecase) Register(ctx context.Context, w *WorkerInstance) error {
	w.Status = StatusOnline
	return u.repo.Upsert(ctx, w)
}

func (u *Usecase) Heartbeat(ctx context.Context, id string, at time.Time) error {
	ok, err := u.repo.Touch(ctx, id, at)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrWorkerNotFound
	}
	return nil
}

func (u *Usecase) Get(ctx context.Context, id string) (*WorkerInstance, error) {
	w, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	} else if w == nil {
		return nil, errs.ErrWorkerNotFound
	}
	return w, nil
}

// MarkStaleOffline 把超时未心跳的实例标记为 offline，返回这些实例的 id
func (u *Usecase) MarkStaleOffline(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	stale, err := u.repo.List(ctx, &Filter{
		Status:          mo.Some(StatusOnline),
		HeartbeatBefore: mo.Some(now.Add(-staleAfter)),
	})
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	ids := lo.Map(stale, func(w *WorkerInstance, _ int) string { return w.ID })
	if err := u.repo.MarkOffline(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}
