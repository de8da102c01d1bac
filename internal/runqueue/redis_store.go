package runqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/runengine/internal/domain/errs"
)

var _ Store = (*RedisStore)(nil)

var (
	// KEYS: msg, rscore, ready, delayed, qrunning, envrunning, envqueues
	// ARGV: id, payload, score, availableAt(ms), delayed(0/1), queue
	enqueueScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('SREM', KEYS[5], ARGV[1])
redis.call('SREM', KEYS[6], ARGV[1])
if ARGV[5] == '1' then
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
  redis.call('ZREM', KEYS[4], ARGV[1])
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
redis.call('SADD', KEYS[7], ARGV[6])
return 1
`)

	// KEYS 同上；ARGV: now(ms), queue limit, env limit, queue
	// 返回 {1, payload} 出队成功；{0} 达到并发上限；{-1} 没有就绪条目
	popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[4], id)
  local score = redis.call('HGET', KEYS[2], id)
  if score then
    redis.call('ZADD', KEYS[3], score, id)
  end
end

if redis.call('SCARD', KEYS[5]) >= tonumber(ARGV[2]) or redis.call('SCARD', KEYS[6]) >= tonumber(ARGV[3]) then
  return {0}
end

while true do
  local head = redis.call('ZRANGE', KEYS[3], 0, 0)
  if #head == 0 then
    if redis.call('ZCARD', KEYS[4]) == 0 then
      redis.call('SREM', KEYS[7], ARGV[4])
    end
    return {-1}
  end
  local id = head[1]
  redis.call('ZREM', KEYS[3], id)
  local msg = redis.call('HGET', KEYS[1], id)
  if msg then
    redis.call('SADD', KEYS[5], id)
    redis.call('SADD', KEYS[6], id)
    return {1, msg}
  end
end
`)

	// KEYS 同上；ARGV: id
	ackScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('SREM', KEYS[5], ARGV[1])
redis.call('SREM', KEYS[6], ARGV[1])
return 1
`)
)

// RedisStore 基于 Redis 的队列存储，所有状态迁移都在 Lua 脚本中完成
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	k := "runqueue"
	if s.prefix != "" {
		k = s.prefix + ":runqueue"
	}
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) msgKey() string { return s.key("msg") }
func (s *RedisStore) scoreKey() string { return s.key("rscore") }
func (s *RedisStore) queuesKey(env string) string {
	return s.key("env", env, "queues")
}
func (s *RedisStore) envRunningKey(env string) string {
	return s.key("env", env, "running")
}
func (s *RedisStore) queueKey(env, queue, kind string) string {
	return s.key("env", env, "q", queue, kind)
}

func (s *RedisStore) keys(env, queue string) []string {
	return []string{
		s.msgKey(),
		s.scoreKey(),
		s.queueKey(env, queue, "ready"),
		s.queueKey(env, queue, "delayed"),
		s.queueKey(env, queue, "running"),
		s.envRunningKey(env),
		s.queuesKey(env),
	}
}

func (s *RedisStore) Enqueue(ctx context.Context, e Entry, now time.Time) error {
	if err := e.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	delayed := "0"
	if e.AvailableAt.After(now) {
		delayed = "1"
	}
	return enqueueScript.Run(ctx, s.rdb, s.keys(e.EnvironmentID, e.Queue),
		e.ID(),
		string(payload),
		strconv.FormatFloat(e.readyScore(), 'f', -1, 64),
		e.AvailableAt.UnixMilli(),
		delayed,
		e.Queue,
	).Err()
}

func (s *RedisStore) Candidates(ctx context.Context, env string, now time.Time) ([]QueueState, error) {
	names, err := s.rdb.SMembers(ctx, s.queuesKey(env)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	type counters struct {
		ready, due *redis.IntCmd
		running    *redis.IntCmd
	}
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	cmds := make([]counters, len(names))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = counters{
				ready:   p.ZCard(ctx, s.queueKey(env, name, "ready")),
				due:     p.ZCount(ctx, s.queueKey(env, name, "delayed"), "-inf", nowMs),
				running: p.SCard(ctx, s.queueKey(env, name, "running")),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var states []QueueState
	for i, name := range names {
		ready := cmds[i].ready.Val() + cmds[i].due.Val()
		if ready == 0 {
			continue
		}
		states = append(states, QueueState{Queue: name, Ready: ready, Running: cmds[i].running.Val()})
	}
	return states, nil
}

func (s *RedisStore) Pop(ctx context.Context, env, queue string, now time.Time, limits Limits) (*Entry, error) {
	raw, err := popScript.Run(ctx, s.rdb, s.keys(env, queue),
		now.UnixMilli(), limits.Queue, limits.Environment, queue,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("pop %s/%s: %w", env, queue, err)
	}
	if len(raw) < 2 {
		return nil, nil
	}
	payload, ok := raw[1].(string)
	if !ok {
		return nil, fmt.Errorf("pop %s/%s: unexpected reply %v", env, queue, raw)
	}
	var e Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) Ack(ctx context.Context, runID uint64) error {
	e, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	n, err := ackScript.Run(ctx, s.rdb, s.keys(e.EnvironmentID, e.Queue), e.ID()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return &errs.MessageNotFoundError{MessageID: e.ID()}
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, runID uint64) (bool, error) {
	e, err := s.Get(ctx, runID)
	if err != nil {
		return false, err
	}

	var removed *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.queueKey(e.EnvironmentID, e.Queue, "running"), e.ID())
		p.SRem(ctx, s.envRunningKey(e.EnvironmentID), e.ID())
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, runID uint64) (*Entry, error) {
	id := strconv.FormatUint(runID, 10)
	payload, err := s.rdb.HGet(ctx, s.msgKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &errs.MessageNotFoundError{MessageID: id}
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return &e, nil
}

func (s *RedisStore) Depth(ctx context.Context, env, queue string) (int64, error) {
	var ready, delayed *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		ready = p.ZCard(ctx, s.queueKey(env, queue, "ready"))
		delayed = p.ZCard(ctx, s.queueKey(env, queue, "delayed"))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val(), nil
}

func (s *RedisStore) Running(ctx context.Context, env, queue string) (int64, error) {
	return s.rdb.SCard(ctx, s.queueKey(env, queue, "running")).Result()
}

func (s *RedisStore) EnvironmentRunning(ctx context.Context, env string) (int64, error) {
	return s.rdb.SCard(ctx, s.envRunningKey(env)).Result()
}
