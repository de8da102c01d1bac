package workerinstance

import (
	"context"
	"time"

	"github.com/samber/mo"
)

type Repo interface {
	// Upsert 按 id 写入，已存在时更新心跳与元数据并恢复 online
	Upsert(ctx context.Context, w *WorkerInstance) error
	GetByID(ctx context.Context, id string) (*WorkerInstance, error)
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	List(ctx context.Context, filter *Filter) ([]*WorkerInstance, error)
	MarkOffline(ctx context.Context, ids []string) error
}

type Filter struct {
	EnvironmentID   mo.Option[string]
	Status          mo.Option[Status]
	HeartbeatBefore mo.Option[time.Time]
}
