// Package periodic 以固定间隔运行后台任务，同一时刻同一任务只执行一次。
package periodic

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Func 一次执行，返回本轮处理的条目数
type Func func(ctx context.Context) (int, error)

type Worker struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(name string, interval time.Duration, fn Func, logger *zap.Logger) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(zap.String("worker", name)),
	}
}

func (w *Worker) Name() string {
	return w.name
}

// Start 启动后台循环；interval 不大于 0 时不启动
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	if w.interval <= 0 {
		w.logger.Info("periodic worker is disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("periodic worker started", zap.Duration("interval", w.interval))
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("periodic worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.RunNow(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("periodic run failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunNow 立即执行一次；已有执行进行中时共享其结果
func (w *Worker) RunNow(ctx context.Context) (int, error) {
	v, err, _ := w.group.Do(w.name, func() (interface{}, error) {
		n, err := w.fn(ctx)
		if n > 0 {
			w.logger.Debug("periodic run processed items", zap.Int("count", n))
		}
		return n, err
	})
	if v == nil {
		return 0, err
	}
	return v.(int), err
}
