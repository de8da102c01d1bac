package task

import (
	"context"

	"github.com/samber/mo"
)

type Repo interface {
	// Upsert 按 (environment_id, identifier) 写入，已存在时更新队列、重试与版本
	Upsert(ctx context.Context, task *Task) error
	Get(ctx context.Context, environmentID, identifier string) (*Task, error)
	Update(ctx context.Context, id uint64, patch *TaskPatch) error
	List(ctx context.Context, filter *TaskFilter) ([]*Task, error)
}

type TaskFilter struct {
	EnvironmentID mo.Option[string]
	Status        mo.Option[TaskStatus]
}
