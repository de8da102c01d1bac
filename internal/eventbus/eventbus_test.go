package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBusDispatchAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus("node-a")
	var got []Event
	cancel := bus.Subscribe(func(ev Event) { got = append(got, ev) })

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventRunEnqueued, EnvironmentID: "env"}))
	cancel()
	cancel()
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventRunEnqueued, EnvironmentID: "env"}))

	require.Len(t, got, 1)
	assert.Equal(t, "node-a", got[0].Source)
	assert.NotZero(t, got[0].Timestamp)
}

func TestNotifyFiltersAndDoesNotBlock(t *testing.T) {
	bus := NewMemoryBus("node-a")
	ch, cancel := Notify(bus, func(ev Event) bool { return ev.EnvironmentID == "env_1" })
	defer cancel()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: EventRunEnqueued, EnvironmentID: "env_2"}))
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	default:
	}

	// 连续多次发布不会阻塞发布者
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, Event{Type: EventRunEnqueued, EnvironmentID: "env_1"}))
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected signal")
	}
}

func TestRedisBusFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	a := NewRedisBus(rdb, "test", "node-a", zap.NewNop())
	b := NewRedisBus(rdb, "test", "node-b", zap.NewNop())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Stop()
	defer b.Stop()

	var onA, onB atomic.Int32
	a.Subscribe(func(ev Event) { onA.Add(1) })
	b.Subscribe(func(ev Event) {
		if ev.Type == EventQueueUpdated && ev.Queue == "emails" && ev.Source == "node-a" {
			onB.Add(1)
		}
	})

	require.NoError(t, a.Publish(ctx, Event{Type: EventQueueUpdated, EnvironmentID: "env", Queue: "emails"}))

	assert.Eventually(t, func() bool { return onA.Load() == 1 && onB.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
