package eventbus

import (
	"context"
	"time"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus 单实例部署使用，Publish 同步分发
type MemoryBus struct {
	*dispatcher
	source string
}

func NewMemoryBus(source string) *MemoryBus {
	return &MemoryBus{dispatcher: newDispatcher(), source: source}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	if ev.Source == "" {
		ev.Source = b.source
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	b.dispatch(ev)
	return nil
}
