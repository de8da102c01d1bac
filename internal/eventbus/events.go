// Package eventbus 在引擎实例之间广播轻量事件，用于唤醒长轮询与失效缓存。
package eventbus

import (
	"context"
	"sync"
)

// EventType 事件类型
type EventType string

const (
	EventRunEnqueued   EventType = "run_enqueued"
	EventQueueUpdated  EventType = "queue_updated"
	EventRunCancelled  EventType = "run_cancelled"
	EventWorkerOffline EventType = "worker_offline"
)

const channel = "runengine:events"

// Event pub/sub 消息体
type Event struct {
	Type          EventType `json:"type"`
	EnvironmentID string    `json:"environment_id,omitempty"`
	Queue         string    `json:"queue,omitempty"`
	RunID         uint64    `json:"run_id,omitempty,string"`
	Source        string    `json:"source,omitempty"`
	Timestamp     int64     `json:"ts,omitempty"`
}

type Handler func(Event)

// Bus 事件总线
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe 注册处理函数，返回取消订阅函数
	Subscribe(handler Handler) func()
}

// dispatcher 本进程内的订阅者表
type dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[int]Handler)}
}

func (d *dispatcher) Subscribe(handler Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = handler
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) dispatch(ev Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Notify 订阅满足 match 的事件，命中时向返回的 channel 发一个信号（不阻塞）
func Notify(bus Bus, match func(Event) bool) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	cancel := bus.Subscribe(func(ev Event) {
		if !match(ev) {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, cancel
}
