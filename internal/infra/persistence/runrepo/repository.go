package runrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, run *domain.TaskRun, snapshot *domain.Snapshot) error {
	run.LatestSnapshotID = snapshot.ID
	po := new(TaskRunPo).FromDomain(run)
	err := r.Execute(ctx, func(ctx context.Context) error {
		if err := r.Db(ctx).Create(po).Error; err != nil {
			return err
		}
		return r.Db(ctx).Create(new(SnapshotPo).FromDomain(snapshot)).Error
	})
	if err != nil {
		return commonrepo.TranslateError(err)
	}
	run.CreatedAt = po.CreatedAt
	run.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) first(ctx context.Context, query string, args ...any) (*domain.TaskRun, error) {
	var po TaskRunPo
	if err := r.Db(ctx).Where(query, args...).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.TaskRun, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *MysqlRepositoryImpl) GetByFriendlyID(ctx context.Context, friendlyID string) (*domain.TaskRun, error) {
	return r.first(ctx, "friendly_id = ?", friendlyID)
}

func (r *MysqlRepositoryImpl) FindByActiveIdempotencyKey(ctx context.Context, environmentID, key string) (*domain.TaskRun, error) {
	return r.first(ctx, "environment_id = ? AND active_idempotency_key = ?", environmentID, key)
}

func (r *MysqlRepositoryImpl) ExistsOneTimeUseToken(ctx context.Context, environmentID, token string) (bool, error) {
	var count int64
	err := r.Db(ctx).Model(&TaskRunPo{}).
		Where("environment_id = ? AND one_time_use_token = ?", environmentID, token).
		Count(&count).Error
	return count > 0, err
}

func (r *MysqlRepositoryImpl) FindExecutingWithIdempotencyKey(ctx context.Context, environmentID, key string, excludeID uint64) (*domain.TaskRun, error) {
	return r.first(ctx,
		"environment_id = ? AND idempotency_key = ? AND status = ? AND attempt_started_at IS NOT NULL AND id <> ?",
		environmentID, key, domain.StatusExecuting, excludeID)
}

func (r *MysqlRepositoryImpl) ClearActiveIdempotencyKey(ctx context.Context, environmentID, key string) (int64, error) {
	res := r.Db(ctx).Model(&TaskRunPo{}).
		Where("environment_id = ? AND active_idempotency_key = ?", environmentID, key).
		Update("active_idempotency_key", nil)
	return res.RowsAffected, res.Error
}

func (r *MysqlRepositoryImpl) AdvanceSnapshot(ctx context.Context, runID, expected uint64, snapshot *domain.Snapshot, patch *domain.RunPatch) error {
	return r.Execute(ctx, func(ctx context.Context) error {
		values := patchToMap(patch)
		values["latest_snapshot_id"] = snapshot.ID
		res := r.Db(ctx).Model(&TaskRunPo{}).
			Where("id = ? AND latest_snapshot_id = ?", runID, expected).
			Updates(values)
		if res.Error != nil {
			return commonrepo.TranslateError(res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrStaleSnapshot
		}
		if err := r.Db(ctx).Create(new(SnapshotPo).FromDomain(snapshot)).Error; err != nil {
			if commonrepo.IsDuplicateKey(err) {
				return errs.ErrStaleSnapshot
			}
			return err
		}
		return nil
	})
}

func (r *MysqlRepositoryImpl) UpdateHeartbeat(ctx context.Context, runID, snapshotID uint64, deadline time.Time) (bool, error) {
	res := r.Db(ctx).Model(&TaskRunPo{}).
		Where("id = ? AND latest_snapshot_id = ?", runID, snapshotID).
		Update("heartbeat_deadline", deadline)
	return res.RowsAffected > 0, res.Error
}

func (r *MysqlRepositoryImpl) GetSnapshot(ctx context.Context, id uint64) (*domain.Snapshot, error) {
	var po SnapshotPo
	if err := r.Db(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) LatestSnapshot(ctx context.Context, runID uint64) (*domain.Snapshot, error) {
	var po SnapshotPo
	err := r.Db(ctx).Where("run_id = ?", runID).Order("version DESC").First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) ListSnapshots(ctx context.Context, runID uint64) ([]*domain.Snapshot, error) {
	var pos []SnapshotPo
	if err := r.Db(ctx).Where("run_id = ?", runID).Order("version ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po SnapshotPo, _ int) *domain.Snapshot {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.Filter) ([]*domain.TaskRun, error) {
	var pos []TaskRunPo
	query := r.Db(ctx).Model(&TaskRunPo{})
	if env, ok := filter.EnvironmentID.Get(); ok {
		query = query.Where("environment_id = ?", env)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if worker, ok := filter.WorkerInstanceID.Get(); ok {
		query = query.Where("worker_instance_id = ?", worker)
	}
	if before, ok := filter.HeartbeatBefore.Get(); ok {
		query = query.Where("heartbeat_deadline IS NOT NULL AND heartbeat_deadline < ?", before)
	}
	if parent, ok := filter.ParentRunID.Get(); ok {
		query = query.Where("parent_run_id = ?", parent)
	}
	if before, ok := filter.AttemptDeadlineBefore.Get(); ok {
		query = query.Where("attempt_deadline IS NOT NULL AND attempt_deadline < ?", before)
	}
	if after, ok := filter.IDAfter.Get(); ok {
		query = query.Where("id > ?", after)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Order("id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po TaskRunPo, _ int) *domain.TaskRun {
		return po.ToDomain()
	}), nil
}
