// Package runqueue 多租户 run 队列：按环境公平选队列，出队时原子校验队列与环境并发上限。
package runqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/fairqueue"
	"github.com/jobs/runengine/internal/ratelimit"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

// Settings 队列的运行参数
type Settings struct {
	ConcurrencyLimit int
	RateLimit        *ratelimit.Config
	Weight           int
	Paused           bool
}

// SettingsSource 提供队列定义，找不到时应返回默认值
type SettingsSource interface {
	Settings(ctx context.Context, environmentID, queue string) (Settings, error)
}

// StaticSettings 所有队列使用同一份配置
type StaticSettings Settings

func (s StaticSettings) Settings(context.Context, string, string) (Settings, error) {
	return Settings(s), nil
}

type Option func(*RunQueue)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(q *RunQueue) { q.now = now }
}

type RunQueue struct {
	store      Store
	limiter    ratelimit.Limiter
	settings   SettingsSource
	manager    *fairqueue.Manager
	cfg        config.RunQueueConfig
	logger     *zap.Logger
	now        func() time.Time
	mu         sync.Mutex
	schedulers map[string]fairqueue.Scheduler
	offsets    map[string]int
}

func NewRunQueue(
	store Store,
	limiter ratelimit.Limiter,
	settings SettingsSource,
	manager *fairqueue.Manager,
	cfg config.RunQueueConfig,
	logger *zap.Logger,
	opts ...Option,
) *RunQueue {
	q := &RunQueue{
		store:      store,
		limiter:    limiter,
		settings:   settings,
		manager:    manager,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		schedulers: make(map[string]fairqueue.Scheduler),
		offsets:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RunQueue) scheduler(env string) fairqueue.Scheduler {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.schedulers[env]
	if !ok {
		s = q.manager.NewOrDefault(fairqueue.Strategy(q.cfg.Scheduler))
		q.schedulers[env] = s
	}
	return s
}

// Enqueue 写入条目，EnqueuedAt 为空时取当前时间
func (q *RunQueue) Enqueue(ctx context.Context, e Entry) error {
	now := q.now()
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = now
	}
	if e.AvailableAt.IsZero() {
		e.AvailableAt = e.EnqueuedAt
	}
	return q.store.Enqueue(ctx, e, now)
}

type candidate struct {
	state    QueueState
	settings Settings
}

// Dequeue 为消费者选出一条可执行的条目，没有可用条目时返回 nil
func (q *RunQueue) Dequeue(ctx context.Context, consumerID, env string) (*Entry, error) {
	now := q.now()
	states, err := q.store.Candidates(ctx, env, now)
	if err != nil {
		return nil, fmt.Errorf("list candidate queues: %w", err)
	}

	eligible := make([]candidate, 0, len(states))
	for _, st := range states {
		s, err := q.settings.Settings(ctx, env, st.Queue)
		if err != nil {
			q.logger.Warn("load queue settings failed", zap.String("env", env), zap.String("queue", st.Queue), zap.Error(err))
			continue
		}
		if s.Paused || s.ConcurrencyLimit <= 0 || st.Running >= int64(s.ConcurrencyLimit) {
			continue
		}
		eligible = append(eligible, candidate{state: st, settings: s})
	}
	eligible = q.window(env, eligible)

	pending := make(map[string]candidate, len(eligible))
	for _, c := range eligible {
		pending[c.state.Queue] = c
	}

	sched := q.scheduler(env)
	limits := Limits{Environment: q.cfg.EnvironmentLimit(env)}
	for len(pending) > 0 {
		choices := make([]fairqueue.Candidate, 0, len(pending))
		for _, c := range eligible {
			if _, ok := pending[c.state.Queue]; ok {
				choices = append(choices, fairqueue.Candidate{Queue: c.state.Queue, Weight: c.settings.Weight})
			}
		}
		name, ok := sched.Next(choices)
		if !ok {
			return nil, nil
		}
		c := pending[name]
		delete(pending, name)

		limits.Queue = c.settings.ConcurrencyLimit
		e, err := q.store.Pop(ctx, env, name, now, limits)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		// 只有真正弹出条目时才消耗限流额度
		if c.settings.RateLimit != nil && !q.admit(ctx, env, name, *c.settings.RateLimit) {
			if err := q.store.Enqueue(ctx, *e, now); err != nil {
				return nil, fmt.Errorf("return rate limited entry %d: %w", e.RunID, err)
			}
			continue
		}
		sched.Served(name)
		q.logger.Debug("run dequeued",
			zap.String("consumer", consumerID),
			zap.String("queue", name),
			zap.Uint64("run_id", e.RunID))
		return e, nil
	}
	return nil, nil
}

// admit 检查队列限流，限流器出错时本轮跳过该队列
func (q *RunQueue) admit(ctx context.Context, env, queue string, cfg ratelimit.Config) bool {
	res, err := q.limiter.Check(ctx, env+":"+queue, cfg, 1)
	if err != nil {
		q.logger.Warn("rate limit check failed", zap.String("env", env), zap.String("queue", queue), zap.Error(err))
		return false
	}
	if !res.Allowed {
		q.logger.Debug("queue rate limited", zap.String("queue", queue), zap.Duration("retry_after", res.RetryAfter))
	}
	return res.Allowed
}

// window 候选队列超过 MaxCandidates 时，每次从上次截取的位置继续取一段
func (q *RunQueue) window(env string, cs []candidate) []candidate {
	size := q.cfg.MaxCandidates
	if size <= 0 || len(cs) <= size {
		return cs
	}
	q.mu.Lock()
	start := q.offsets[env] % len(cs)
	q.offsets[env] = start + size
	q.mu.Unlock()

	out := make([]candidate, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, cs[(start+i)%len(cs)])
	}
	return out
}

// Acknowledge 删除条目并释放并发
func (q *RunQueue) Acknowledge(ctx context.Context, runID uint64) error {
	return q.store.Ack(ctx, runID)
}

// Remove 删除尚未出队的条目，语义同 Acknowledge
func (q *RunQueue) Remove(ctx context.Context, runID uint64) error {
	return q.store.Ack(ctx, runID)
}

// Requeue 释放占用并在 delay 之后重新可见
func (q *RunQueue) Requeue(ctx context.Context, runID uint64, delay time.Duration, mutate ...func(*Entry)) error {
	e, err := q.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	for _, fn := range mutate {
		fn(e)
	}
	now := q.now()
	e.AvailableAt = now.Add(delay)
	return q.store.Enqueue(ctx, *e, now)
}

// ReleaseConcurrency 释放占用，重复调用只生效一次
func (q *RunQueue) ReleaseConcurrency(ctx context.Context, runID uint64) (bool, error) {
	return q.store.Release(ctx, runID)
}

func (q *RunQueue) Get(ctx context.Context, runID uint64) (*Entry, error) {
	return q.store.Get(ctx, runID)
}

func (q *RunQueue) GetQueueDepth(ctx context.Context, env, queue string) (int64, error) {
	return q.store.Depth(ctx, env, queue)
}

func (q *RunQueue) RunningCount(ctx context.Context, env, queue string) (int64, error) {
	return q.store.Running(ctx, env, queue)
}

func (q *RunQueue) EnvironmentRunningCount(ctx context.Context, env string) (int64, error) {
	return q.store.EnvironmentRunning(ctx, env)
}

// IsNotFound 条目不存在
func IsNotFound(err error) bool {
	return errs.IsMessageNotFound(err)
}
