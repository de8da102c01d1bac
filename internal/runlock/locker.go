// Package runlock 提供按 run 粒度的分布式互斥锁。
package runlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrLockTimeout 在超时时间内未能获取锁
var ErrLockTimeout = errors.New("lock acquisition timed out")

// LockTimeoutError 锁超时，属于可重试错误
type LockTimeoutError struct {
	Keys    []string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("failed to acquire lock on [%s] within %s", strings.Join(e.Keys, ","), e.Timeout)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

func (e *LockTimeoutError) Retryable() bool { return true }

// Backend 锁的存储实现
type Backend interface {
	// Acquire 尝试以 token 占有 key，已被占用时返回 false
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Extend 续约，仅在 token 仍为持有者时成功
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release 释放，仅在 token 仍为持有者时删除
	Release(ctx context.Context, key, token string) error
}

type Config struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	RetryMin       time.Duration
	RetryMax       time.Duration
}

func (c Config) normalize() Config {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 5 * time.Millisecond
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = 50 * time.Millisecond
	}
	return c
}

// Locker 分布式锁，支持多 key 组合加锁与持有期间自动续约
type Locker struct {
	backend Backend
	config  Config
	logger  *zap.Logger
}

func NewLocker(backend Backend, config Config, logger *zap.Logger) *Locker {
	return &Locker{
		backend: backend,
		config:  config.normalize(),
		logger:  logger,
	}
}

// RunKey run 锁的 key
func RunKey(runID uint64) string {
	return "run:" + strconv.FormatUint(runID, 10)
}

// WithLock 在持有全部 keys 的锁的情况下执行 fn，使用默认超时
func (l *Locker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return l.WithLockTimeout(ctx, keys, l.config.AcquireTimeout, fn)
}

// WithLockTimeout 按全局顺序依次获取 keys 的锁后执行 fn；任何退出路径都会释放已获取的锁
func (l *Locker) WithLockTimeout(ctx context.Context, keys []string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	keys = lo.Uniq(keys)
	sort.Strings(keys)
	if len(keys) == 0 {
		return fn(ctx)
	}

	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	held := make([]string, 0, len(keys))
	defer func() {
		l.releaseAll(held, token)
	}()

	for _, key := range keys {
		if err := l.acquire(ctx, key, token, deadline); err != nil {
			if errors.Is(err, ErrLockTimeout) {
				return &LockTimeoutError{Keys: keys, Timeout: timeout}
			}
			return err
		}
		held = append(held, key)
	}

	lockCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopped := l.keepAlive(lockCtx, held, token)
	defer func() {
		cancel()
		<-stopped
	}()

	return fn(lockCtx)
}

func (l *Locker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := l.backend.Acquire(ctx, key, token, l.config.TTL)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		wait := l.config.RetryMin + time.Duration(rand.Int63n(int64(l.config.RetryMax-l.config.RetryMin)+1))
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockTimeout
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// keepAlive 每 ttl/2 续约一次，直到 ctx 结束
func (l *Locker) keepAlive(ctx context.Context, keys []string, token string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.config.TTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, key := range keys {
					ok, err := l.backend.Extend(ctx, key, token, l.config.TTL)
					if err != nil && ctx.Err() == nil {
						l.logger.Warn("failed to extend lock", zap.String("key", key), zap.Error(err))
					} else if !ok && ctx.Err() == nil {
						l.logger.Warn("lock lost before release", zap.String("key", key))
					}
				}
			}
		}
	}()
	return done
}

func (l *Locker) releaseAll(keys []string, token string) {
	// 调用方的 ctx 可能已取消，释放使用独立的 ctx
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := l.backend.Release(ctx, keys[i], token); err != nil {
			l.logger.Error("failed to release lock",
				zap.String("key", keys[i]),
				zap.Error(err))
		}
	}
}
