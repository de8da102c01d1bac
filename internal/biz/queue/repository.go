package queue

import "context"

type Repo interface {
	// Upsert 按 (environment_id, name) 写入
	Upsert(ctx context.Context, def *Definition) error
	Get(ctx context.Context, environmentID, name string) (*Definition, error)
	List(ctx context.Context, environmentID string) ([]*Definition, error)
}
