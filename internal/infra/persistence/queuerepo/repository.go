package queuerepo

import (
	"context"
	"errors"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/queue"
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

func (r *MysqlRepositoryImpl) Upsert(ctx context.Context, def *domain.Definition) error {
	po := new(QueuePo).FromDomain(def)
	return r.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "environment_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"concurrency_limit", "rate_limit", "weight",
			"release_concurrency_on_waitpoint", "paused", "updated_at",
		}),
	}).Create(po).Error
}

func (r *MysqlRepositoryImpl) Get(ctx context.Context, environmentID, name string) (*domain.Definition, error) {
	var po QueuePo
	err := r.Db(ctx).Where("environment_id = ? AND name = ?", environmentID, name).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, environmentID string) ([]*domain.Definition, error) {
	var pos []QueuePo
	if err := r.Db(ctx).Where("environment_id = ?", environmentID).Order("name ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po QueuePo, _ int) *domain.Definition {
		return po.ToDomain()
	}), nil
}
