package fairqueue

import "sync"

var _ Scheduler = (*DRR)(nil)

// serveCost 每出队一个条目消耗的 deficit
const serveCost = 1

// DRR deficit round robin。
// 一轮开始时每个候选队列的 deficit 增加其权重；游标所在队列在 deficit 足够时持续被服务，
// 用尽后游标移到下一个队列。deficit 不会为负，未出现在候选中的队列 deficit 清零。
type DRR struct {
	mu      sync.Mutex
	ring    ring
	deficit map[string]int
	cursor  int
}

func NewDRR() *DRR {
	return &DRR{ring: newRing(), deficit: make(map[string]int)}
}

func (s *DRR) Next(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.register(candidates)
	set := toSet(candidates)
	for q := range s.deficit {
		if _, ok := set[q]; !ok {
			delete(s.deficit, q)
		}
	}

	// 第一次扫描找不到时开启新一轮，权重至少为 1，第二次扫描必然命中
	for round := 0; round < 2; round++ {
		n := len(s.ring.order)
		for i := 0; i < n; i++ {
			idx := (s.cursor + i) % n
			queue := s.ring.order[idx]
			if _, ok := set[queue]; ok && s.deficit[queue] >= serveCost {
				s.cursor = idx
				return queue, true
			}
		}
		for _, c := range candidates {
			s.deficit[c.Queue] += c.weight()
		}
	}
	return "", false
}

func (s *DRR) Served(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deficit[queue] - serveCost
	if d < 0 {
		d = 0
	}
	s.deficit[queue] = d
	if d < serveCost {
		if idx, ok := s.ring.index[queue]; ok {
			s.cursor = idx + 1
		}
	}
}

func (s *DRR) Name() string {
	return string(StrategyDRR)
}

// Deficit 返回队列当前的 deficit
func (s *DRR) Deficit(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deficit[queue]
}
