package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
)

var _ Store = (*RedisStore)(nil)

var (
	// KEYS: dedup, jobs hash, slot zset; ARGV: id, payload, runAt(ms), dedup ttl(ms)
	pushScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[4]) == false then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

	// KEYS: jobs hash, slot zset, inflight zset; ARGV: now(ms), visibleAt(ms)
	claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end

while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ids == 0 then
    return false
  end
  redis.call('ZREM', KEYS[2], ids[1])
  local payload = redis.call('HGET', KEYS[1], ids[1])
  if payload then
    redis.call('ZADD', KEYS[3], ARGV[2], ids[1])
    return payload
  end
end
`)
)

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) jobsKey(slotKey string) string {
	return s.key(slotKey + ":jobs")
}

func (s *RedisStore) inflightKey(slotKey string) string {
	return s.key(slotKey + ":inflight")
}

func (s *RedisStore) Push(ctx context.Context, slotKey string, job Job, dedupTTL time.Duration) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	ttl := dedupTTL.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	n, err := pushScript.Run(ctx, s.rdb,
		[]string{s.key("job:dedup:" + job.ID), s.jobsKey(slotKey), s.key(slotKey)},
		job.ID, string(payload), job.RunAt.UnixMilli(), ttl,
	).Int()
	if err != nil {
		return false, fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Retry(ctx context.Context, slotKey string, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.jobsKey(slotKey), job.ID, payload)
		p.ZRem(ctx, s.inflightKey(slotKey), job.ID)
		p.ZAdd(ctx, s.key(slotKey), &redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}

func (s *RedisStore) Claim(ctx context.Context, slotKey string, now, visibleAt time.Time) (*Job, error) {
	payload, err := claimScript.Run(ctx, s.rdb,
		[]string{s.jobsKey(slotKey), s.key(slotKey), s.inflightKey(slotKey)},
		now.UnixMilli(), visibleAt.UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Ack(ctx context.Context, slotKey, jobID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.inflightKey(slotKey), jobID)
		p.HDel(ctx, s.jobsKey(slotKey), jobID)
		return nil
	})
	return err
}
