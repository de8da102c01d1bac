// Package retry 计算失败重试的退避时间。
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config 重试策略，字段与 worker 协议中的 retry 配置一致
type Config struct {
	MaxAttempts    int     `json:"maxAttempts"`
	MinTimeoutInMs int     `json:"minTimeoutInMs"`
	MaxTimeoutInMs int     `json:"maxTimeoutInMs"`
	Factor         float64 `json:"factor"`
	Randomize      bool    `json:"randomize"`
}

// Normalize 补齐缺省值
func (c Config) Normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.MinTimeoutInMs <= 0 {
		c.MinTimeoutInMs = 1000
	}
	if c.MaxTimeoutInMs < c.MinTimeoutInMs {
		c.MaxTimeoutInMs = c.MinTimeoutInMs
	}
	if c.Factor < 1 {
		c.Factor = 1
	}
	return c
}

// ShouldRetry 第 attempt 次尝试失败后是否还能再试
func (c Config) ShouldRetry(attempt int) bool {
	return attempt < c.Normalize().MaxAttempts
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitter() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Delay 第 attempt 次尝试失败后到下一次尝试的等待时间:
// min(maxTimeout, minTimeout * factor^(attempt-1) * r)，r 在开启 randomize 时取 [1, 2)，否则为 1
func Delay(c Config, attempt int) time.Duration {
	return delay(c, attempt, jitter)
}

func delay(c Config, attempt int, random func() float64) time.Duration {
	c = c.Normalize()
	if attempt < 1 {
		attempt = 1
	}
	r := 1.0
	if c.Randomize {
		r += random()
	}
	ms := float64(c.MinTimeoutInMs) * math.Pow(c.Factor, float64(attempt-1)) * r
	ms = math.Min(ms, float64(c.MaxTimeoutInMs))
	return time.Duration(math.Round(ms)) * time.Millisecond
}
