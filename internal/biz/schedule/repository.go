package schedule

import (
	"context"
	"time"

	"github.com/samber/mo"
)

type Repo interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uint64) (*Schedule, error)
	GetByFriendlyID(ctx context.Context, friendlyID string) (*Schedule, error)
	FindByDeduplicationKey(ctx context.Context, environmentID, key string) (*Schedule, error)
	Update(ctx context.Context, id uint64, patch *Patch) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, filter *Filter) ([]*Schedule, error)
	// FindDue 启用且 next_run_at 不晚于 before 的计划
	FindDue(ctx context.Context, before time.Time, limit int) ([]*Schedule, error)
	// ClaimNextRun 仅当 next_run_at 仍为 expected 时推进到 next，返回是否抢到
	ClaimNextRun(ctx context.Context, id uint64, expected, next time.Time) (bool, error)

	// CreateTick 已存在时不写入并返回 false
	CreateTick(ctx context.Context, tick *Tick) (bool, error)
	GetTick(ctx context.Context, scheduleID uint64, scheduleTime time.Time) (*Tick, error)
	SetTickRun(ctx context.Context, scheduleID uint64, scheduleTime time.Time, runID uint64) error
}

type Filter struct {
	EnvironmentID  mo.Option[string]
	TaskIdentifier mo.Option[string]
	Active         mo.Option[bool]
}

type Patch struct {
	Cron      *string
	Timezone  *string
	Payload   *map[string]any
	Active    *bool
	NextRunAt **time.Time
}

func NewPatch() *Patch {
	return &Patch{}
}

func (p *Patch) WithCron(expr, timezone string) *Patch {
	p.Cron = &expr
	p.Timezone = &timezone
	return p
}

func (p *Patch) WithPayload(payload map[string]any) *Patch {
	p.Payload = &payload
	return p
}

func (p *Patch) WithActive(active bool) *Patch {
	p.Active = &active
	return p
}

func (p *Patch) WithNextRunAt(t *time.Time) *Patch {
	p.NextRunAt = &t
	return p
}
