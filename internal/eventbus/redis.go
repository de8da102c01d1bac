package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var _ Bus = (*RedisBus)(nil)

// RedisBus 通过 Redis pub/sub 广播，所有实例（包括发布者自身）都从订阅中收到事件
type RedisBus struct {
	*dispatcher
	rdb     redis.UniversalClient
	channel string
	source  string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisBus(rdb redis.UniversalClient, prefix, source string, logger *zap.Logger) *RedisBus {
	ch := channel
	if prefix != "" {
		ch = prefix + ":" + channel
	}
	return &RedisBus{
		dispatcher: newDispatcher(),
		rdb:        rdb,
		channel:    ch,
		source:     source,
		logger:     logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.Source == "" {
		ev.Source = b.source
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Start 建立订阅并在后台分发，订阅确认后返回
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.pubsub = pubsub

	b.wg.Add(1)
	go b.run(pubsub.Channel())
	b.logger.Info("event bus subscribed", zap.String("channel", b.channel))
	return nil
}

func (b *RedisBus) run(messages <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range messages {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("drop malformed event", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		b.dispatch(ev)
	}
}

func (b *RedisBus) Stop() {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return
	}
	_ = pubsub.Close()
	b.wg.Wait()
	b.logger.Info("event bus stopped")
}
