package periodic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerTicksUntilStopped(t *testing.T) {
	var calls atomic.Int32
	w := New("sweep", 5*time.Millisecond, func(context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}, zap.NewNop())

	w.Start()
	w.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	w.Stop()
	w.Stop()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestDisabledWorkerDoesNotStart(t *testing.T) {
	var calls atomic.Int32
	w := New("off", 0, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}, zap.NewNop())
	w.Start()
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	assert.Equal(t, int32(0), calls.Load())
}

// TestRunNowCollapsesConcurrentCalls 并发触发只执行一次
func TestRunNowCollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	w := New("collapse", time.Hour, func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := w.RunNow(context.Background())
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []int{7, 7, 7, 7}, results)
}

func TestRunNowReturnsError(t *testing.T) {
	boom := errors.New("boom")
	w := New("err", time.Hour, func(context.Context) (int, error) { return 0, boom }, zap.NewNop())
	_, err := w.RunNow(context.Background())
	require.ErrorIs(t, err, boom)
}
