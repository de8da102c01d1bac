package fairqueue

import (
	"fmt"

	"github.com/google/wire"
)

var Provider = wire.NewSet(NewManager)

// Manager 按名称创建调度策略
type Manager struct {
	factories map[Strategy]func() Scheduler
}

// NewManager 创建策略管理器
func NewManager() *Manager {
	m := &Manager{factories: make(map[Strategy]func() Scheduler)}

	// 注册所有策略
	m.factories[StrategyDRR] = func() Scheduler { return NewDRR() }
	m.factories[StrategyWeighted] = func() Scheduler { return NewWeighted() }
	m.factories[StrategyRoundRobin] = func() Scheduler { return NewRoundRobin() }

	return m
}

// New 创建指定策略的调度器，未知策略返回错误
func (m *Manager) New(strategy Strategy) (Scheduler, error) {
	factory, ok := m.factories[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown fair queue strategy: %s", strategy)
	}
	return factory(), nil
}

// NewOrDefault 创建指定策略的调度器，未知策略时使用 DRR
func (m *Manager) NewOrDefault(strategy Strategy) Scheduler {
	s, err := m.New(strategy)
	if err != nil {
		return NewDRR()
	}
	return s
}
