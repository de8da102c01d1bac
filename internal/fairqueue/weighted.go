package fairqueue

import "sync"

var _ Scheduler = (*Weighted)(nil)

// Weighted 平滑加权轮询，每个周期内各队列的出队次数与权重成正比
type Weighted struct {
	mu      sync.Mutex
	current map[string]int
	last    []Candidate
}

func NewWeighted() *Weighted {
	return &Weighted{current: make(map[string]int)}
}

func (s *Weighted) Next(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	best, bestScore := -1, 0
	for i, c := range candidates {
		score := s.current[c.Queue] + c.weight()
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	s.last = append(s.last[:0], candidates...)
	return candidates[best].Queue, true
}

func (s *Weighted) Served(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := toSet(s.last)
	if _, ok := set[queue]; !ok {
		return
	}

	// 不在本轮候选中的队列清零
	for q := range s.current {
		if _, ok := set[q]; !ok {
			delete(s.current, q)
		}
	}

	total := 0
	for _, c := range s.last {
		s.current[c.Queue] += c.weight()
		total += c.weight()
	}
	s.current[queue] -= total
}

func (s *Weighted) Name() string {
	return string(StrategyWeighted)
}
