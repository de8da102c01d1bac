package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDeterministic(t *testing.T) {
	cfg := Config{MaxAttempts: 3, MinTimeoutInMs: 1000, MaxTimeoutInMs: 10000, Factor: 2}

	assert.Equal(t, 1000*time.Millisecond, Delay(cfg, 1))
	assert.Equal(t, 2000*time.Millisecond, Delay(cfg, 2))

	assert.True(t, cfg.ShouldRetry(1))
	assert.True(t, cfg.ShouldRetry(2))
	assert.False(t, cfg.ShouldRetry(3))
}

func TestDelayCappedByMaxTimeout(t *testing.T) {
	cfg := Config{MaxAttempts: 10, MinTimeoutInMs: 1000, MaxTimeoutInMs: 5000, Factor: 3}
	assert.Equal(t, 5000*time.Millisecond, Delay(cfg, 4))
}

func TestDelayRandomizeRange(t *testing.T) {
	cfg := Config{MaxAttempts: 5, MinTimeoutInMs: 1000, MaxTimeoutInMs: 60000, Factor: 2, Randomize: true}

	assert.Equal(t, 1500*time.Millisecond, delay(cfg, 1, func() float64 { return 0.5 }))
	for i := 0; i < 50; i++ {
		d := Delay(cfg, 2)
		assert.GreaterOrEqual(t, d, 2000*time.Millisecond)
		assert.Less(t, d, 4000*time.Millisecond)
	}
}

func TestNormalize(t *testing.T) {
	cfg := Config{}.Normalize()
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 1000, cfg.MinTimeoutInMs)
	assert.Equal(t, 1000, cfg.MaxTimeoutInMs)
	assert.Equal(t, 1.0, cfg.Factor)
	assert.False(t, Config{}.ShouldRetry(1))
}
