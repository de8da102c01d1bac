package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jobs/runengine/internal/eventbus"
	"github.com/jobs/runengine/internal/runqueue"
	"github.com/jobs/runengine/pkg/config"
	"golang.org/x/sync/singleflight"
)

var _ runqueue.SettingsSource = (*Cache)(nil)

type cacheItem struct {
	def       Definition
	found     bool
	expiresAt time.Time
}

// Cache 队列定义的本地缓存，TTL 到期或收到 queue_updated 事件时失效
type Cache struct {
	repo         Repo
	ttl          time.Duration
	defaultLimit int
	now          func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	items map[string]cacheItem
}

func NewCache(repo Repo, bus eventbus.Bus, cfg config.RunQueueConfig) *Cache {
	c := &Cache{
		repo:         repo,
		ttl:          cfg.DefinitionCacheTTL,
		defaultLimit: cfg.DefaultConcurrencyLimit,
		now:          time.Now,
		items:        make(map[string]cacheItem),
	}
	bus.Subscribe(func(ev eventbus.Event) {
		if ev.Type == eventbus.EventQueueUpdated {
			c.Invalidate(ev.EnvironmentID, ev.Queue)
		}
	})
	return c
}

func cacheKey(environmentID, name string) string {
	return environmentID + "\x00" + name
}

func (c *Cache) Invalidate(environmentID, name string) {
	c.mu.Lock()
	delete(c.items, cacheKey(environmentID, name))
	c.mu.Unlock()
}

// Definition 读取队列定义，不存在时返回默认定义
func (c *Cache) Definition(ctx context.Context, environmentID, name string) (Definition, error) {
	key := cacheKey(environmentID, name)

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.now().Before(item.expiresAt) {
		return item.def, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		def, err := c.repo.Get(ctx, environmentID, name)
		if err != nil {
			return nil, err
		}
		item := cacheItem{expiresAt: c.now().Add(c.ttl)}
		if def != nil {
			item.def, item.found = *def, true
		} else {
			item.def = Definition{EnvironmentID: environmentID, Name: name, ConcurrencyLimit: c.defaultLimit, Weight: 1}
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.items[key] = item
			c.mu.Unlock()
		}
		return item.def, nil
	})
	if err != nil {
		return Definition{}, err
	}
	return v.(Definition), nil
}

func (c *Cache) Settings(ctx context.Context, environmentID, name string) (runqueue.Settings, error) {
	def, err := c.Definition(ctx, environmentID, name)
	if err != nil {
		return runqueue.Settings{}, err
	}
	return runqueue.Settings{
		ConcurrencyLimit: def.ConcurrencyLimit,
		RateLimit:        def.RateLimit,
		Weight:           def.Weight,
		Paused:           def.Paused,
	}, nil
}
