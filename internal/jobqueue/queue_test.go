package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/runengine/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func stores(t *testing.T, c *clock) map[string]Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := NewMemoryStore()
	mem.now = c.Now
	return map[string]Store{
		"memory": mem,
		"redis":  NewRedisStore(rdb, "test"),
	}
}

func newQueue(store Store, c *clock) *Queue {
	q := New(store, Options{
		QueueID:  "schedules",
		Slots:    3,
		Workers:  1,
		Retry:    retry.Config{MaxAttempts: 3, MinTimeoutInMs: 1000, MaxTimeoutInMs: 10000, Factor: 2},
		DedupTTL: time.Hour,
	}, zap.NewNop())
	q.now = c.Now
	return q
}

type tickPayload struct {
	ScheduleID uint64 `json:"scheduleId"`
}

func TestEnqueueDeduplicates(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_760_000_000_000)}
	for name, store := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue(store, c)

			var handled []uint64
			q.Register("trigger", func(_ context.Context, job Job) error {
				var p tickPayload
				require.NoError(t, json.Unmarshal(job.Payload, &p))
				handled = append(handled, p.ScheduleID)
				return nil
			})

			ok, err := q.Enqueue(ctx, "trigger", "sched:1:100", tickPayload{ScheduleID: 1}, time.Time{})
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = q.Enqueue(ctx, "trigger", "sched:1:100", tickPayload{ScheduleID: 1}, time.Time{})
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = q.Enqueue(ctx, "trigger", "sched:2:100", tickPayload{ScheduleID: 2}, time.Time{})
			require.NoError(t, err)
			assert.True(t, ok)

			assert.Equal(t, 2, q.ProcessDue(ctx))
			assert.ElementsMatch(t, []uint64{1, 2}, handled)
		})
	}
}

func TestUnackedJobRedeliveredAfterVisibilityTimeout(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_760_000_000_000)}
	for name, store := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue(store, c)
			q.opts.VisibilityTimeout = 30 * time.Second

			var attempts []int
			q.Register("trigger", func(_ context.Context, job Job) error {
				attempts = append(attempts, job.Attempt)
				return nil
			})
			_, err := q.Enqueue(ctx, "trigger", "sched:3:"+name, tickPayload{ScheduleID: 3}, time.Time{})
			require.NoError(t, err)

			// 认领后进程退出，作业没有被确认
			now := c.Now()
			claimed, err := store.Claim(ctx, q.slotKey(0), now, now.Add(q.opts.VisibilityTimeout))
			require.NoError(t, err)
			require.NotNil(t, claimed)
			assert.Equal(t, 0, q.ProcessDue(ctx))

			c.Advance(31 * time.Second)
			assert.Equal(t, 1, q.ProcessDue(ctx))
			assert.Equal(t, []int{1}, attempts)

			// 确认后不再投递
			c.Advance(time.Minute)
			assert.Equal(t, 0, q.ProcessDue(ctx))
		})
	}
}

func TestFailedJobRetriedWithBackoff(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_760_000_000_000)}
	for name, store := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue(store, c)

			var attempts []int
			q.Register("flaky", func(_ context.Context, job Job) error {
				attempts = append(attempts, job.Attempt)
				if job.Attempt < 2 {
					return errors.New("not yet")
				}
				return nil
			})

			_, err := q.Enqueue(ctx, "flaky", "flaky-"+name, struct{}{}, time.Time{})
			require.NoError(t, err)

			assert.Equal(t, 1, q.ProcessDue(ctx))
			// 退避 1s 之内不可见
			assert.Equal(t, 0, q.ProcessDue(ctx))
			c.Advance(time.Second)
			assert.Equal(t, 1, q.ProcessDue(ctx))
			assert.Equal(t, []int{1, 2}, attempts)
		})
	}
}

func TestJobDroppedAfterMaxAttempts(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_760_000_000_000)}
	q := newQueue(NewMemoryStore(), c)
	q.store.(*MemoryStore).now = c.Now

	calls := 0
	q.Register("broken", func(context.Context, Job) error {
		calls++
		panic("boom")
	})
	_, err := q.Enqueue(context.Background(), "broken", "b", nil, time.Time{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		q.ProcessDue(context.Background())
		c.Advance(time.Minute)
	}
	assert.Equal(t, 3, calls)
}

func TestWorkersProcessInBackground(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, Options{QueueID: "bg", Slots: 2, Workers: 2, PollInterval: 5 * time.Millisecond}, zap.NewNop())

	done := make(chan string, 4)
	q.Register("echo", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	})
	q.Start()
	defer q.Stop()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := q.Enqueue(context.Background(), "echo", id, nil, time.Time{})
		require.NoError(t, err)
	}

	var got []string
	for len(got) < 4 {
		select {
		case id := <-done:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("only processed %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, got)
}
