package schedule

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/pkg/idx"
)

var Provider = wire.NewSet(NewUsecase)

type Usecase struct {
	repo Repo
	now  func() time.Time
}

func NewUsecase(repo Repo) *Usecase {
	return &Usecase{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

type CreateRequest struct {
	EnvironmentID    string
	OrganizationID   string
	TaskIdentifier   string
	Cron             string
	Timezone         string
	Payload          map[string]any
	DeduplicationKey string
}

// Create 创建计划；相同去重键的计划已存在时更新它
func (u *Usecase) Create(ctx context.Context, req *CreateRequest) (*Schedule, error) {
	if req.TaskIdentifier == "" {
		return nil, errs.NewValidationError("task identifier is required")
	}
	if _, err := ParseCron(req.Cron, req.Timezone); err != nil {
		return nil, errs.NewValidationError("%v", err)
	}

	if req.DeduplicationKey != "" {
		existing, err := u.repo.FindByDeduplicationKey(ctx, req.EnvironmentID, req.DeduplicationKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Cron, existing.Timezone, existing.Payload = req.Cron, req.Timezone, req.Payload
			next, _ := existing.Next(u.now())
			existing.NextRunAt = &next
			patch := NewPatch().WithCron(req.Cron, req.Timezone).WithPayload(req.Payload).WithNextRunAt(&next)
			return existing, u.repo.Update(ctx, existing.ID, patch)
		}
	}

	s := &Schedule{
		ID:               idx.NextID(),
		TaskIdentifier:   req.TaskIdentifier,
		EnvironmentID:    req.EnvironmentID,
		OrganizationID:   req.OrganizationID,
		Cron:             req.Cron,
		Timezone:         req.Timezone,
		Payload:          req.Payload,
		Active:           true,
		DeduplicationKey: req.DeduplicationKey,
	}
	s.FriendlyID = idx.Friendly("sched", s.ID)
	next, err := s.Next(u.now())
	if err != nil {
		return nil, err
	}
	s.NextRunAt = &next
	if err := u.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *Usecase) Get(ctx context.Context, friendlyID string) (*Schedule, error) {
	s, err := u.repo.GetByFriendlyID(ctx, friendlyID)
	if err != nil {
		return nil, err
	} else if s == nil {
		return nil, errs.ErrScheduleNotFound
	}
	return s, nil
}

type UpdateRequest struct {
	Cron     string
	Timezone string
	Payload  map[string]any
}

// Update 修改 cron 或负载，并按新表达式重新计算下一次触发时间
func (u *Usecase) Update(ctx context.Context, friendlyID string, req *UpdateRequest) (*Schedule, error) {
	s, err := u.Get(ctx, friendlyID)
	if err != nil {
		return nil, err
	}
	if _, err := ParseCron(req.Cron, req.Timezone); err != nil {
		return nil, errs.NewValidationError("%v", err)
	}
	s.Cron, s.Timezone, s.Payload = req.Cron, req.Timezone, req.Payload
	patch := NewPatch().WithCron(req.Cron, req.Timezone).WithPayload(req.Payload)
	if s.Active {
		next, err := s.Next(u.now())
		if err != nil {
			return nil, err
		}
		s.NextRunAt = &next
		patch.WithNextRunAt(&next)
	}
	if err := u.repo.Update(ctx, s.ID, patch); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *Usecase) List(ctx context.Context, filter *Filter) ([]*Schedule, error) {
	return u.repo.List(ctx, filter)
}

func (u *Usecase) Delete(ctx context.Context, friendlyID string) error {
	s, err := u.Get(ctx, friendlyID)
	if err != nil {
		return err
	}
	return u.repo.Delete(ctx, s.ID)
}

func (u *Usecase) Activate(ctx context.Context, friendlyID string) error {
	s, err := u.Get(ctx, friendlyID)
	if err != nil {
		return err
	}
	next, err := s.Next(u.now())
	if err != nil {
		return err
	}
	return u.repo.Update(ctx, s.ID, NewPatch().WithActive(true).WithNextRunAt(&next))
}

func (u *Usecase) Deactivate(ctx context.Context, friendlyID string) error {
	s, err := u.Get(ctx, friendlyID)
	if err != nil {
		return err
	}
	return u.repo.Update(ctx, s.ID, NewPatch().WithActive(false))
}
