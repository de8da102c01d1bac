package ratelimit

import (
	"context"
	"sync"
)

var _ Limiter = (*MemoryLimiter)(nil)

type memoryState struct {
	tat       float64
	expiresAt float64
}

// MemoryLimiter 进程内 GCRA 限流器，单机模式使用
type MemoryLimiter struct {
	opts  options
	mu    sync.Mutex
	state map[string]memoryState
	calls int
}

func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	return &MemoryLimiter{
		opts:  buildOptions(opts),
		state: make(map[string]memoryState),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, cfg Config, cost int) (Result, error) {
	params, err := Parse(cfg)
	if err != nil {
		return Result{Allowed: false}, err
	}
	if cost < 1 {
		cost = 1
	}

	now := nowMillis(l.opts.now())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%1024 == 0 {
		l.evict(now)
	}

	current := now
	if s, ok := l.state[key]; ok && s.expiresAt > now {
		current = s.tat
	}
	newTAT, res := evaluate(current, now, params, cost)
	if res.Allowed {
		l.state[key] = memoryState{tat: newTAT, expiresAt: newTAT}
	}
	return res, nil
}

func (l *MemoryLimiter) evict(now float64) {
	for k, s := range l.state {
		if s.expiresAt <= now {
			delete(l.state, k)
		}
	}
}

// Reset 清除 key 的状态
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.state, key)
	l.mu.Unlock()
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
