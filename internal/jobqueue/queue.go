// Package jobqueue 带去重与重试的后台作业队列，供定时调度投递触发作业。
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobs/runengine/internal/retry"
	"github.com/jobs/runengine/internal/runqueue"
	"go.uber.org/zap"
)

// Handler 处理一个作业，返回错误时按重试策略重新投递
type Handler func(ctx context.Context, job Job) error

type Options struct {
	QueueID      string
	Slots        int
	Workers      int
	Retry        retry.Config
	DedupTTL     time.Duration
	PollInterval time.Duration
	// VisibilityTimeout 认领后超过该时间仍未确认的作业会被重新投递
	VisibilityTimeout time.Duration
	// Clock 为空时使用 time.Now
	Clock func() time.Time
}

// Queue 作业队列，入队按槽位轮询分散，worker 按槽位轮询消费
type Queue struct {
	opts   Options
	store  Store
	logger *zap.Logger
	now    func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	next    atomic.Uint32
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

func New(store Store, opts Options, logger *zap.Logger) *Queue {
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = time.Minute
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Queue{
		opts:     opts,
		store:    store,
		logger:   logger.With(zap.String("job_queue", opts.QueueID)),
		now:      now,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

func (q *Queue) slotKey(slot int) string {
	return runqueue.LegacyQueueKey(q.opts.QueueID, slot)
}

// Register 注册作业处理函数
func (q *Queue) Register(name string, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[name] = h
}

func (q *Queue) handler(name string) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Enqueue 投递作业；dedupKey 在有效期内已存在时返回 false
func (q *Queue) Enqueue(ctx context.Context, name, dedupKey string, payload any, runAt time.Time) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	if runAt.IsZero() {
		runAt = q.now()
	}
	job := Job{ID: dedupKey, Name: name, Payload: raw, Attempt: 1, RunAt: runAt}
	slot := int(q.next.Add(1)-1) % q.opts.Slots
	ok, err := q.store.Push(ctx, q.slotKey(slot), job, q.opts.DedupTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		q.logger.Debug("duplicate job skipped", zap.String("job_id", dedupKey))
	}
	return ok, nil
}

// Start 启动 worker
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("job queue started",
		zap.Int("workers", q.opts.Workers),
		zap.Int("slots", q.opts.Slots))
}

// Stop 停止 worker 并等待进行中的作业结束
func (q *Queue) Stop() {
	if !q.started.CompareAndSwap(true, false) {
		return
	}
	close(q.stopCh)
	q.wg.Wait()
	q.logger.Info("job queue stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debug("job worker started", zap.Int("worker_id", id))
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		// 有作业时连续处理，空闲时等待下一次轮询
		for q.processOne(context.Background(), id) {
			select {
			case <-q.stopCh:
				return
			default:
			}
		}
		select {
		case <-ticker.C:
		case <-q.stopCh:
			q.logger.Debug("job worker stopped", zap.Int("worker_id", id))
			return
		}
	}
}

// ProcessDue 同步处理当前所有到期作业，返回处理数
func (q *Queue) ProcessDue(ctx context.Context) int {
	n := 0
	for q.processOne(ctx, 0) {
		n++
	}
	return n
}

func (q *Queue) processOne(ctx context.Context, start int) bool {
	now := q.now()
	for i := 0; i < q.opts.Slots; i++ {
		slot := (start + i) % q.opts.Slots
		job, err := q.store.Claim(ctx, q.slotKey(slot), now, now.Add(q.opts.VisibilityTimeout))
		if err != nil {
			q.logger.Error("failed to claim job", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		q.execute(ctx, slot, job)
		return true
	}
	return false
}

func (q *Queue) execute(ctx context.Context, slot int, job *Job) {
	h, ok := q.handler(job.Name)
	if !ok {
		q.logger.Error("no handler for job, dropping",
			zap.String("job_id", job.ID),
			zap.String("name", job.Name))
		q.ack(ctx, slot, job)
		return
	}

	err := q.safeCall(ctx, h, *job)
	if err == nil {
		q.ack(ctx, slot, job)
		return
	}

	if !q.opts.Retry.ShouldRetry(job.Attempt) {
		q.logger.Error("job failed, attempts exhausted",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		q.ack(ctx, slot, job)
		return
	}

	delay := retry.Delay(q.opts.Retry, job.Attempt)
	q.logger.Warn("job failed, retrying",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	job.Attempt++
	job.RunAt = q.now().Add(delay)
	if err := q.store.Retry(ctx, q.slotKey(slot), *job); err != nil {
		q.logger.Error("failed to reschedule job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) ack(ctx context.Context, slot int, job *Job) {
	if err := q.store.Ack(ctx, q.slotKey(slot), job.ID); err != nil {
		q.logger.Error("failed to ack job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) safeCall(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return h(ctx, job)
}
