package engine

import (
	"context"
	"sync"
	"time"
)

// RaceSimulation 在加锁后、写入前插入延迟，用于构造确定的并发场景。未注册时不做任何事
type RaceSimulation struct {
	mu     sync.Mutex
	delays map[uint64]time.Duration
}

func NewRaceSimulation() *RaceSimulation {
	return &RaceSimulation{delays: make(map[uint64]time.Duration)}
}

func (r *RaceSimulation) Register(runID uint64, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays[runID] = delay
}

func (r *RaceSimulation) Clear(runID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.delays, runID)
}

func (r *RaceSimulation) Wait(ctx context.Context, runID uint64) error {
	r.mu.Lock()
	delay, ok := r.delays[runID]
	r.mu.Unlock()
	if !ok || delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
