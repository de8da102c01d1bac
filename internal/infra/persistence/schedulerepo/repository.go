package schedulerepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, s *domain.Schedule) error {
	po := new(SchedulePo).FromDomain(s)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return commonrepo.TranslateError(err)
	}
	s.CreatedAt = po.CreatedAt
	s.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) first(ctx context.Context, query string, args ...any) (*domain.Schedule, error) {
	var po SchedulePo
	if err := r.Db(ctx).Where(query, args...).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.Schedule, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *MysqlRepositoryImpl) GetByFriendlyID(ctx context.Context, friendlyID string) (*domain.Schedule, error) {
	return r.first(ctx, "friendly_id = ?", friendlyID)
}

func (r *MysqlRepositoryImpl) FindByDeduplicationKey(ctx context.Context, environmentID, key string) (*domain.Schedule, error) {
	return r.first(ctx, "environment_id = ? AND deduplication_key = ?", environmentID, key)
}

func (r *MysqlRepositoryImpl) Update(ctx context.Context, id uint64, patch *domain.Patch) error {
	values := patchToMap(patch)
	if len(values) == 0 {
		return nil
	}
	return r.Db(ctx).Model(&SchedulePo{}).Where("id = ?", id).Updates(values).Error
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return r.Execute(ctx, func(ctx context.Context) error {
		if err := r.Db(ctx).Where("schedule_id = ?", id).Delete(&TickPo{}).Error; err != nil {
			return err
		}
		return r.Db(ctx).Delete(&SchedulePo{}, id).Error
	})
}

func (r *MysqlRepositoryImpl) list(query *gorm.DB) ([]*domain.Schedule, error) {
	var pos []SchedulePo
	if err := query.Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po SchedulePo, _ int) *domain.Schedule {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.Filter) ([]*domain.Schedule, error) {
	query := r.Db(ctx).Model(&SchedulePo{})
	if filter != nil {
		if env, ok := filter.EnvironmentID.Get(); ok {
			query = query.Where("environment_id = ?", env)
		}
		if task, ok := filter.TaskIdentifier.Get(); ok {
			query = query.Where("task_identifier = ?", task)
		}
		if active, ok := filter.Active.Get(); ok {
			query = query.Where("active = ?", active)
		}
	}
	return r.list(query.Order("id ASC"))
}

func (r *MysqlRepositoryImpl) FindDue(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	query := r.Db(ctx).Model(&SchedulePo{}).
		Where("active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, before).
		Order("next_run_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.list(query)
}

func (r *MysqlRepositoryImpl) ClaimNextRun(ctx context.Context, id uint64, expected, next time.Time) (bool, error) {
	res := r.Db(ctx).Model(&SchedulePo{}).
		Where("id = ? AND next_run_at = ?", id, expected).
		Updates(map[string]any{
			"next_run_at": next,
			"last_run_at": expected,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *MysqlRepositoryImpl) CreateTick(ctx context.Context, tick *domain.Tick) (bool, error) {
	po := &TickPo{ScheduleID: tick.ScheduleID, ScheduleTime: tick.ScheduleTime, RunID: tick.RunID}
	res := r.Db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(po)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MysqlRepositoryImpl) GetTick(ctx context.Context, scheduleID uint64, scheduleTime time.Time) (*domain.Tick, error) {
	var po TickPo
	err := r.Db(ctx).Where("schedule_id = ? AND schedule_time = ?", scheduleID, scheduleTime).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) SetTickRun(ctx context.Context, scheduleID uint64, scheduleTime time.Time, runID uint64) error {
	return r.Db(ctx).Model(&TickPo{}).
		Where("schedule_id = ? AND schedule_time = ?", scheduleID, scheduleTime).
		Update("run_id", runID).Error
}
