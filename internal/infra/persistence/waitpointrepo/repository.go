package waitpointrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/waitpoint"
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

func (r *MysqlRepositoryImpl) Create(ctx context.Context, wp *domain.Waitpoint) error {
	po := new(WaitpointPo).FromDomain(wp)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return commonrepo.TranslateError(err)
	}
	wp.CreatedAt = po.CreatedAt
	return nil
}

func (r *MysqlRepositoryImpl) first(ctx context.Context, query string, args ...any) (*domain.Waitpoint, error) {
	var po WaitpointPo
	if err := r.Db(ctx).Where(query, args...).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.Waitpoint, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *MysqlRepositoryImpl) GetByFriendlyID(ctx context.Context, friendlyID string) (*domain.Waitpoint, error) {
	return r.first(ctx, "friendly_id = ?", friendlyID)
}

func (r *MysqlRepositoryImpl) FindByIdempotencyKey(ctx context.Context, environmentID, key string) (*domain.Waitpoint, error) {
	return r.first(ctx, "environment_id = ? AND idempotency_key = ?", environmentID, key)
}

func (r *MysqlRepositoryImpl) Complete(ctx context.Context, id uint64, output domain.Output, completedAt time.Time) (bool, error) {
	res := r.Db(ctx).Model(&WaitpointPo{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":          domain.StatusCompleted,
			"output":          output.Value,
			"output_is_error": output.IsError,
			"completed_at":    completedAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *MysqlRepositoryImpl) find(ctx context.Context, query *gorm.DB) ([]*domain.Waitpoint, error) {
	var pos []WaitpointPo
	if err := query.Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po WaitpointPo, _ int) *domain.Waitpoint {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) FindPendingByCompletedByRun(ctx context.Context, runID uint64) ([]*domain.Waitpoint, error) {
	return r.find(ctx, r.Db(ctx).
		Where("completed_by_run_id = ? AND status = ?", runID, domain.StatusPending).
		Order("id ASC"))
}

func (r *MysqlRepositoryImpl) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.Waitpoint, error) {
	query := r.Db(ctx).
		Where("status = ? AND completed_after IS NOT NULL AND completed_after <= ?", domain.StatusPending, now).
		Order("completed_after ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(ctx, query)
}

func (r *MysqlRepositoryImpl) Block(ctx context.Context, runID uint64, waitpointIDs []uint64) error {
	if len(waitpointIDs) == 0 {
		return nil
	}
	pos := lo.Map(waitpointIDs, func(id uint64, _ int) *RunWaitpointPo {
		return &RunWaitpointPo{RunID: runID, WaitpointID: id}
	})
	return r.Db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pos).Error
}

func (r *MysqlRepositoryImpl) ListForRun(ctx context.Context, runID uint64) ([]*domain.Waitpoint, error) {
	var ids []uint64
	err := r.Db(ctx).Model(&RunWaitpointPo{}).
		Where("run_id = ?", runID).
		Order("id ASC").
		Pluck("waitpoint_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, r.Db(ctx).Where("id IN ?", ids).Order("id ASC"))
}

func (r *MysqlRepositoryImpl) BlockedRunIDs(ctx context.Context, waitpointID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.Db(ctx).Model(&RunWaitpointPo{}).
		Where("waitpoint_id = ?", waitpointID).
		Order("run_id ASC").
		Pluck("run_id", &ids).Error
	return ids, err
}

func (r *MysqlRepositoryImpl) ClearRun(ctx context.Context, runID uint64) error {
	return r.Db(ctx).Where("run_id = ?", runID).Delete(&RunWaitpointPo{}).Error
}
