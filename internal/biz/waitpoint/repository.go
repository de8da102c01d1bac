package waitpoint

import (
	"context"
	"time"
)

type Repo interface {
	// Create 幂等键冲突返回 errs.ErrDuplicateRecord
	Create(ctx context.Context, wp *Waitpoint) error
	GetByID(ctx context.Context, id uint64) (*Waitpoint, error)
	GetByFriendlyID(ctx context.Context, friendlyID string) (*Waitpoint, error)
	FindByIdempotencyKey(ctx context.Context, environmentID, key string) (*Waitpoint, error)
	// Complete 仅当状态为 PENDING 时更新为 COMPLETED，返回是否由本次调用完成
	Complete(ctx context.Context, id uint64, output Output, completedAt time.Time) (bool, error)
	// FindPendingByCompletedByRun 等待指定子 run 结束的 RUN waitpoint
	FindPendingByCompletedByRun(ctx context.Context, runID uint64) ([]*Waitpoint, error)
	// FindDue 到达 CompletedAfter 仍未完成的 waitpoint：DATETIME 到期或 MANUAL 超时
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Waitpoint, error)

	// Block 记录 run 被这些 waitpoint 阻塞，重复记录被忽略
	Block(ctx context.Context, runID uint64, waitpointIDs []uint64) error
	// ListForRun 阻塞该 run 的全部 waitpoint
	ListForRun(ctx context.Context, runID uint64) ([]*Waitpoint, error)
	// BlockedRunIDs 被该 waitpoint 阻塞的 run
	BlockedRunIDs(ctx context.Context, waitpointID uint64) ([]uint64, error)
	ClearRun(ctx context.Context, runID uint64) error
}
