package runlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backends(t *testing.T) map[string]Backend {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  NewRedisBackend(rdb, "test"),
	}
}

func TestWithLockMutualExclusion(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			locker := NewLocker(backend, Config{TTL: time.Second, AcquireTimeout: 5 * time.Second}, zap.NewNop())

			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := locker.WithLock(context.Background(), []string{RunKey(1)}, func(ctx context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxInside)
							if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
								break
							}
						}
						time.Sleep(5 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestWithLockTimeout(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			locker := NewLocker(backend, Config{TTL: 5 * time.Second}, zap.NewNop())

			held := make(chan struct{})
			release := make(chan struct{})
			go func() {
				_ = locker.WithLock(context.Background(), []string{RunKey(7)}, func(ctx context.Context) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			err := locker.WithLockTimeout(context.Background(), []string{RunKey(7)}, 30*time.Millisecond, func(ctx context.Context) error {
				t.Fatal("must not run")
				return nil
			})
			var timeoutErr *LockTimeoutError
			require.True(t, errors.As(err, &timeoutErr))
			assert.True(t, errors.Is(err, ErrLockTimeout))
			assert.True(t, timeoutErr.Retryable())
			close(release)
		})
	}
}

func TestWithLockReleasesOnErrorAndPanic(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			locker := NewLocker(backend, Config{TTL: 5 * time.Second, AcquireTimeout: 50 * time.Millisecond}, zap.NewNop())
			ctx := context.Background()
			boom := errors.New("boom")

			err := locker.WithLock(ctx, []string{RunKey(3)}, func(ctx context.Context) error { return boom })
			assert.ErrorIs(t, err, boom)

			assert.Panics(t, func() {
				_ = locker.WithLock(ctx, []string{RunKey(3)}, func(ctx context.Context) error { panic("bad") })
			})

			err = locker.WithLock(ctx, []string{RunKey(3)}, func(ctx context.Context) error { return nil })
			assert.NoError(t, err)
		})
	}
}

// TestCompoundKeysNoDeadlock 交叉顺序的组合锁按全局顺序获取，不会互相等待
func TestCompoundKeysNoDeadlock(t *testing.T) {
	locker := NewLocker(NewMemoryBackend(), Config{TTL: time.Second, AcquireTimeout: 2 * time.Second}, zap.NewNop())

	var wg sync.WaitGroup
	var count int32
	for i := 0; i < 20; i++ {
		keys := []string{RunKey(1), RunKey(2)}
		if i%2 == 1 {
			keys = []string{RunKey(2), RunKey(1), RunKey(2)}
		}
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			err := locker.WithLock(context.Background(), keys, func(ctx context.Context) error {
				atomic.AddInt32(&count, 1)
				time.Sleep(time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}(keys)
	}
	wg.Wait()
	assert.Equal(t, int32(20), count)
}

// TestPartialAcquireReleased 组合锁部分获取失败时，已获取的部分被释放
func TestPartialAcquireReleased(t *testing.T) {
	backend := NewMemoryBackend()
	locker := NewLocker(backend, Config{TTL: 5 * time.Second, AcquireTimeout: 20 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()

	ok, err := backend.Acquire(ctx, RunKey(9), "other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = locker.WithLock(ctx, []string{RunKey(9), RunKey(8)}, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrLockTimeout)

	ok, err = backend.Acquire(ctx, RunKey(8), "intruder", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestKeepAliveExtendsLease 持有时间超过 TTL 时自动续约，其它调用方拿不到锁
func TestKeepAliveExtendsLease(t *testing.T) {
	backend := NewMemoryBackend()
	locker := NewLocker(backend, Config{TTL: 60 * time.Millisecond, AcquireTimeout: 20 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(ctx, []string{RunKey(5)}, func(ctx context.Context) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-started
	time.Sleep(120 * time.Millisecond)

	err := locker.WithLock(ctx, []string{RunKey(5)}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockTimeout)
	require.NoError(t, <-done)
}

func TestRedisBackendTokenOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	backend := NewRedisBackend(rdb, "test")
	ctx := context.Background()

	ok, err := backend.Acquire(ctx, "run:1", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = backend.Extend(ctx, "run:1", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Release(ctx, "run:1", "b"))
	assert.True(t, mr.Exists("test:lock:run:1"))

	ok, err = backend.Extend(ctx, "run:1", "a", 3*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, mr.TTL("test:lock:run:1"))

	require.NoError(t, backend.Release(ctx, "run:1", "a"))
	assert.False(t, mr.Exists("test:lock:run:1"))
}
