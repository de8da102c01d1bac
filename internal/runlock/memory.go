package runlock

import (
	"context"
	"sync"
	"time"
)

var _ Backend = (*MemoryBackend)(nil)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryBackend 进程内锁实现，单机模式使用
type MemoryBackend struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{locks: make(map[string]memoryEntry), now: time.Now}
}

func (b *MemoryBackend) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if e, ok := b.locks[key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	b.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (b *MemoryBackend) Extend(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.locks[key]
	if !ok || e.token != token {
		return false, nil
	}
	e.expiresAt = b.now().Add(ttl)
	b.locks[key] = e
	return true, nil
}

func (b *MemoryBackend) Release(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.locks[key]; ok && e.token == token {
		delete(b.locks, key)
	}
	return nil
}
