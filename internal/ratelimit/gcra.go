// Package ratelimit 实现基于 GCRA 的队列限流，支持 Redis 与进程内两种存储。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig 限流配置无法解析，按拒绝处理
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config 队列上的限流配置，Period 为时长字符串，如 "60s"、"1m"、"500ms"
type Config struct {
	Burst  int    `json:"burst"`
	Period string `json:"period"`
}

// Params 解析后的 GCRA 参数
type Params struct {
	EmissionInterval time.Duration
	Tolerance        time.Duration
}

// Parse 计算 emissionInterval = period / burst，tolerance = period
func Parse(cfg Config) (Params, error) {
	if cfg.Burst < 1 {
		return Params{}, fmt.Errorf("%w: burst must be >= 1, got %d", ErrInvalidConfig, cfg.Burst)
	}
	period, err := time.ParseDuration(cfg.Period)
	if err != nil {
		return Params{}, fmt.Errorf("%w: period %q: %v", ErrInvalidConfig, cfg.Period, err)
	}
	if period <= 0 {
		return Params{}, fmt.Errorf("%w: period must be positive, got %q", ErrInvalidConfig, cfg.Period)
	}
	return Params{
		EmissionInterval: period / time.Duration(cfg.Burst),
		Tolerance:        period,
	}, nil
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter 限流器
type Limiter interface {
	// Check 以 cost 个单位消费 key 的配额，配置非法时返回 Allowed=false 与 ErrInvalidConfig
	Check(ctx context.Context, key string, cfg Config, cost int) (Result, error)
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// evaluate 以毫秒为单位的 GCRA 计算，返回新 TAT 与判定结果；仅在允许时应持久化新 TAT
func evaluate(tat, now float64, p Params, cost int) (float64, Result) {
	emission := float64(p.EmissionInterval) / float64(time.Millisecond)
	tolerance := float64(p.Tolerance) / float64(time.Millisecond)

	if tat < now {
		tat = now
	}
	newTAT := tat + emission*float64(cost)
	diff := newTAT - now
	if diff > tolerance {
		return tat, Result{Allowed: false, RetryAfter: msToDuration(diff - tolerance)}
	}
	return newTAT, Result{Allowed: true}
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(math.Ceil(ms * float64(time.Millisecond)))
}

func nowMillis(t time.Time) float64 {
	return float64(t.UnixMilli()) + float64(t.Nanosecond()%int(time.Millisecond))/float64(time.Millisecond)
}
