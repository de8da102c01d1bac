package taskrepo

import (
	"context"
	"errors"

	"github.com/google/wire"
	domain "github.com/jobs/runengine/internal/biz/task"
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

// Upsert 已存在时保留原 id 与状态，写回数据库中的 id
func (m *MysqlRepositoryImpl) Upsert(ctx context.Context, task *domain.Task) error {
	return m.Execute(ctx, func(ctx context.Context) error {
		po := new(TaskPo).FromDomain(task)
		err := m.Db(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "environment_id"}, {Name: "identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"queue_name", "retry", "max_duration_seconds", "deployment_version", "updated_at",
			}),
		}).Create(po).Error
		if err != nil {
			return err
		}
		stored, err := m.Get(ctx, task.EnvironmentID, task.Identifier)
		if err != nil {
			return err
		} else if stored == nil {
			return errors.New("task vanished after upsert")
		}
		task.ID = stored.ID
		task.Status = stored.Status
		task.CreatedAt = stored.CreatedAt
		task.UpdatedAt = stored.UpdatedAt
		return nil
	})
}

func (m *MysqlRepositoryImpl) Get(ctx context.Context, environmentID, identifier string) (*domain.Task, error) {
	var po TaskPo
	err := m.Db(ctx).Where("environment_id = ? AND identifier = ?", environmentID, identifier).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (m *MysqlRepositoryImpl) Update(ctx context.Context, id uint64, patch *domain.TaskPatch) error {
	values := patchToMap(patch)
	if len(values) == 0 {
		return nil
	}
	return m.Db(ctx).Model(&TaskPo{}).Where("id = ?", id).Updates(values).Error
}

func (m *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.TaskFilter) ([]*domain.Task, error) {
	var pos []*TaskPo
	query := m.Db(ctx).Model(&TaskPo{})
	if filter != nil {
		if env, ok := filter.EnvironmentID.Get(); ok {
			query = query.Where("environment_id = ?", env)
		}
		if status, ok := filter.Status.Get(); ok {
			query = query.Where("status = ?", status)
		}
	}
	if err := query.Order("identifier ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po *TaskPo, _ int) *domain.Task {
		return po.ToDomain()
	}), nil
}
