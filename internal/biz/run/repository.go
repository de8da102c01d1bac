package run

import (
	"context"
	"time"

	"github.com/samber/mo"
)

type Repo interface {
	// Create 在同一事务中写入 run 与初始快照；唯一索引冲突返回 errs.ErrDuplicateRecord
	Create(ctx context.Context, run *TaskRun, snapshot *Snapshot) error
	GetByID(ctx context.Context, id uint64) (*TaskRun, error)
	GetByFriendlyID(ctx context.Context, friendlyID string) (*TaskRun, error)
	FindByActiveIdempotencyKey(ctx context.Context, environmentID, key string) (*TaskRun, error)
	ExistsOneTimeUseToken(ctx context.Context, environmentID, token string) (bool, error)
	// FindExecutingWithIdempotencyKey 同一幂等键下正在执行 attempt 的其它 run
	FindExecutingWithIdempotencyKey(ctx context.Context, environmentID, key string, excludeID uint64) (*TaskRun, error)
	// ClearActiveIdempotencyKey 返回受影响的 run 数
	ClearActiveIdempotencyKey(ctx context.Context, environmentID, key string) (int64, error)

	// AdvanceSnapshot 插入快照，并以 CAS 方式把 latest_snapshot_id 从 expected 推进到新快照，
	// 同时写入 patch；expected 不匹配时返回 errs.ErrStaleSnapshot
	AdvanceSnapshot(ctx context.Context, runID, expected uint64, snapshot *Snapshot, patch *RunPatch) error
	// UpdateHeartbeat 以最新快照 id 为条件刷新心跳截止时间
	UpdateHeartbeat(ctx context.Context, runID, snapshotID uint64, deadline time.Time) (bool, error)

	GetSnapshot(ctx context.Context, id uint64) (*Snapshot, error)
	LatestSnapshot(ctx context.Context, runID uint64) (*Snapshot, error)
	ListSnapshots(ctx context.Context, runID uint64) ([]*Snapshot, error)

	List(ctx context.Context, filter *Filter) ([]*TaskRun, error)
}

type Filter struct {
	EnvironmentID    mo.Option[string]
	Statuses         []Status
	WorkerInstanceID mo.Option[string]
	HeartbeatBefore  mo.Option[time.Time]
	ParentRunID      mo.Option[uint64]
	// AttemptDeadlineBefore 当前 attempt 已超过最长执行时间
	AttemptDeadlineBefore mo.Option[time.Time]
	// IDAfter 按 id 分页扫描
	IDAfter mo.Option[uint64]
	Limit   int
}
