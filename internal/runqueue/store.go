package runqueue

import (
	"context"
	"time"
)

// QueueState 一个队列在某一时刻的概况
type QueueState struct {
	Queue   string
	Ready   int64 // 可立即出队的条目数（含已到期的延迟条目）
	Running int64
}

// Limits 出队时原子校验的并发上限
type Limits struct {
	Queue       int
	Environment int
}

// Store 队列存储。running 集合只由存储端原子更新，释放是幂等的
type Store interface {
	// Enqueue 写入或覆盖条目；AvailableAt 晚于 now 时进入延迟集合。会清除该 run 的占用
	Enqueue(ctx context.Context, e Entry, now time.Time) error
	// Candidates 返回环境内所有有待处理条目的队列，按名称排序
	Candidates(ctx context.Context, env string, now time.Time) ([]QueueState, error)
	// Pop 原子地：把到期延迟条目移入就绪集合，校验并发上限，弹出队首并占用并发
	Pop(ctx context.Context, env, queue string, now time.Time, limits Limits) (*Entry, error)
	// Ack 删除条目并释放并发
	Ack(ctx context.Context, runID uint64) error
	// Release 只释放并发，条目保留
	Release(ctx context.Context, runID uint64) (bool, error)
	// Get 读取条目
	Get(ctx context.Context, runID uint64) (*Entry, error)
	Depth(ctx context.Context, env, queue string) (int64, error)
	Running(ctx context.Context, env, queue string) (int64, error)
	EnvironmentRunning(ctx context.Context, env string) (int64, error)
}
