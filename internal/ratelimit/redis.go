package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
)

var _ Limiter = (*RedisLimiter)(nil)

// gcraScript 原子地读取并更新 TAT，仅允许时写回
// KEYS[1] TAT key; ARGV: now(ms), emission(ms), tolerance(ms), cost
var gcraScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local emission = tonumber(ARGV[2])
local tolerance = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tat = tonumber(redis.call('GET', KEYS[1]))
if not tat or tat < now then
  tat = now
end

local new_tat = tat + emission * cost
local diff = new_tat - now
if diff > tolerance then
  return {0, tostring(diff - tolerance)}
end

local ttl = math.ceil(diff)
if ttl < 1 then
  ttl = 1
end
redis.call('SET', KEYS[1], tostring(new_tat), 'PX', ttl)
return {1, '0'}
`)

// RedisLimiter 多实例共享的 GCRA 限流器
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	opts   options
}

func NewRedisLimiter(rdb redis.UniversalClient, prefix string, opts ...Option) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, opts: buildOptions(opts)}
}

func (l *RedisLimiter) key(key string) string {
	if l.prefix == "" {
		return "ratelimit:" + key
	}
	return l.prefix + ":ratelimit:" + key
}

func (l *RedisLimiter) Check(ctx context.Context, key string, cfg Config, cost int) (Result, error) {
	params, err := Parse(cfg)
	if err != nil {
		return Result{Allowed: false}, err
	}
	if cost < 1 {
		cost = 1
	}

	now := nowMillis(l.opts.now())
	emission := float64(params.EmissionInterval) / float64(time.Millisecond)
	tolerance := float64(params.Tolerance) / float64(time.Millisecond)

	raw, err := gcraScript.Run(ctx, l.rdb, []string{l.key(key)},
		strconv.FormatFloat(now, 'f', 3, 64),
		strconv.FormatFloat(emission, 'f', 3, 64),
		strconv.FormatFloat(tolerance, 'f', 3, 64),
		cost,
	).Result()
	if err != nil {
		return Result{Allowed: false}, fmt.Errorf("gcra script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{Allowed: false}, fmt.Errorf("gcra script: unexpected reply %v", raw)
	}
	allowed, _ := values[0].(int64)
	if allowed == 1 {
		return Result{Allowed: true}, nil
	}
	retryStr, _ := values[1].(string)
	retryMs, err := strconv.ParseFloat(retryStr, 64)
	if err != nil {
		return Result{Allowed: false}, fmt.Errorf("gcra script: bad retry value %q", retryStr)
	}
	return Result{Allowed: false, RetryAfter: msToDuration(retryMs)}, nil
}
