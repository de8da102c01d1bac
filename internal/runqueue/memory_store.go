package runqueue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/samber/lo"
)

var _ Store = (*MemoryStore)(nil)

type memoryQueue struct {
	ready   map[uint64]float64
	delayed map[uint64]time.Time
	running map[uint64]struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{
		ready:   make(map[uint64]float64),
		delayed: make(map[uint64]time.Time),
		running: make(map[uint64]struct{}),
	}
}

// MemoryStore 进程内队列存储，单机模式与测试使用
type MemoryStore struct {
	mu         sync.Mutex
	messages   map[uint64]Entry
	queues     map[string]map[string]*memoryQueue
	envRunning map[string]map[uint64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[uint64]Entry),
		queues:     make(map[string]map[string]*memoryQueue),
		envRunning: make(map[string]map[uint64]struct{}),
	}
}

func (s *MemoryStore) queue(env, name string) *memoryQueue {
	byName, ok := s.queues[env]
	if !ok {
		byName = make(map[string]*memoryQueue)
		s.queues[env] = byName
	}
	q, ok := byName[name]
	if !ok {
		q = newMemoryQueue()
		byName[name] = q
	}
	return q
}

func (s *MemoryStore) envSet(env string) map[uint64]struct{} {
	set, ok := s.envRunning[env]
	if !ok {
		set = make(map[uint64]struct{})
		s.envRunning[env] = set
	}
	return set
}

func (s *MemoryStore) Enqueue(_ context.Context, e Entry, now time.Time) error {
	if err := e.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[e.RunID] = e
	q := s.queue(e.EnvironmentID, e.Queue)
	delete(q.running, e.RunID)
	delete(s.envSet(e.EnvironmentID), e.RunID)
	if e.AvailableAt.After(now) {
		delete(q.ready, e.RunID)
		q.delayed[e.RunID] = e.AvailableAt
	} else {
		delete(q.delayed, e.RunID)
		q.ready[e.RunID] = e.readyScore()
	}
	return nil
}

func (s *MemoryStore) Candidates(_ context.Context, env string, now time.Time) ([]QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := lo.Keys(s.queues[env])
	sort.Strings(names)

	var states []QueueState
	for _, name := range names {
		q := s.queues[env][name]
		ready := int64(len(q.ready))
		for _, at := range q.delayed {
			if !at.After(now) {
				ready++
			}
		}
		if ready == 0 {
			continue
		}
		states = append(states, QueueState{Queue: name, Ready: ready, Running: int64(len(q.running))})
	}
	return states, nil
}

func (s *MemoryStore) Pop(_ context.Context, env, name string, now time.Time, limits Limits) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(env, name)
	for id, at := range q.delayed {
		if !at.After(now) {
			delete(q.delayed, id)
			q.ready[id] = s.messages[id].readyScore()
		}
	}

	envSet := s.envSet(env)
	if len(q.running) >= limits.Queue || len(envSet) >= limits.Environment {
		return nil, nil
	}

	var (
		head      uint64
		headScore float64
		found     bool
	)
	for id, score := range q.ready {
		if !found || score < headScore || (score == headScore && strconv.FormatUint(id, 10) < strconv.FormatUint(head, 10)) {
			head, headScore, found = id, score, true
		}
	}
	if !found {
		return nil, nil
	}

	delete(q.ready, head)
	q.running[head] = struct{}{}
	envSet[head] = struct{}{}
	e := s.messages[head]
	return &e, nil
}

func (s *MemoryStore) Ack(_ context.Context, runID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[runID]
	if !ok {
		return &errs.MessageNotFoundError{MessageID: strconv.FormatUint(runID, 10)}
	}
	q := s.queue(e.EnvironmentID, e.Queue)
	delete(q.ready, runID)
	delete(q.delayed, runID)
	delete(q.running, runID)
	delete(s.envSet(e.EnvironmentID), runID)
	delete(s.messages, runID)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, runID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[runID]
	if !ok {
		return false, &errs.MessageNotFoundError{MessageID: strconv.FormatUint(runID, 10)}
	}
	q := s.queue(e.EnvironmentID, e.Queue)
	_, held := q.running[runID]
	delete(q.running, runID)
	delete(s.envSet(e.EnvironmentID), runID)
	return held, nil
}

func (s *MemoryStore) Get(_ context.Context, runID uint64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[runID]
	if !ok {
		return nil, &errs.MessageNotFoundError{MessageID: strconv.FormatUint(runID, 10)}
	}
	return &e, nil
}

func (s *MemoryStore) Depth(_ context.Context, env, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(env, name)
	return int64(len(q.ready) + len(q.delayed)), nil
}

func (s *MemoryStore) Running(_ context.Context, env, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queue(env, name).running)), nil
}

func (s *MemoryStore) EnvironmentRunning(_ context.Context, env string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.envSet(env))), nil
}
