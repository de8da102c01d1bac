package fairqueue

import "sync"

var _ Scheduler = (*RoundRobin)(nil)

// RoundRobin 轮询策略，按队列首次出现的顺序依次服务
type RoundRobin struct {
	mu     sync.Mutex
	ring   ring
	cursor int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{ring: newRing()}
}

func (s *RoundRobin) Next(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.register(candidates)
	set := toSet(candidates)
	n := len(s.ring.order)
	for i := 0; i < n; i++ {
		queue := s.ring.order[(s.cursor+i)%n]
		if _, ok := set[queue]; ok {
			return queue, true
		}
	}
	return "", false
}

func (s *RoundRobin) Served(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.ring.index[queue]; ok {
		s.cursor = idx + 1
	}
}

func (s *RoundRobin) Name() string {
	return string(StrategyRoundRobin)
}
