package workerrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/workerinstance"
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
	return &MysqlRepositoryImpl{
		DefaultRepo: commonrepo.NewDefaultRepo(db),
	}
}

func (m *MysqlRepositoryImpl) Upsert(ctx context.Context, w *domain.WorkerInstance) error {
	po := new(WorkerInstance).FromDomain(w)
	return m.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "worker_group", "environment_id", "deployment_version",
			"status", "last_heartbeat_at", "metadata", "updated_at",
		}),
	}).Create(po).Error
}

func (m *MysqlRepositoryImpl) GetByID(ctx context.Context, id string) (*domain.WorkerInstance, error) {
	var po WorkerInstance
	if err := m.Db(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (m *MysqlRepositoryImpl) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	res := m.Db(ctx).Model(&WorkerInstance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_heartbeat_at": at,
			"status":            domain.StatusOnline,
		})
	return res.RowsAffected > 0, res.Error
}

func (m *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.Filter) ([]*domain.WorkerInstance, error) {
	var pos []*WorkerInstance
	query := m.Db(ctx).Model(&WorkerInstance{})
	if env, ok := filter.EnvironmentID.Get(); ok {
		query = query.Where("environment_id = ?", env)
	}
	if status, ok := filter.Status.Get(); ok {
		query = query.Where("status = ?", status)
	}
	if before, ok := filter.HeartbeatBefore.Get(); ok {
		query = query.Where("last_heartbeat_at < ?", before)
	}
	if err := query.Order("id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po *WorkerInstance, _ int) *domain.WorkerInstance {
		return po.ToDomain()
	}), nil
}

func (m *MysqlRepositoryImpl) MarkOffline(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.Db(ctx).Model(&WorkerInstance{}).
		Where("id IN ?", ids).
		Update("status", domain.StatusOffline).Error
}
