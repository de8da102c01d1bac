// Package fairqueue 在多个可出队的队列之间做公平选择。
package fairqueue

// Candidate 一个可被选择的队列。调用方只传入有待处理条目、并发未满且未被限流的队列
type Candidate struct {
	Queue  string
	Weight int
}

func (c Candidate) weight() int {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// Scheduler 公平调度策略接口
type Scheduler interface {
	// Next 从 candidates 中选出下一个队列；相同内部状态与输入顺序下结果确定
	Next(candidates []Candidate) (string, bool)
	// Served 通知该队列实际出队了一个条目
	Served(queue string)
	// Name 策略名称
	Name() string
}

type Strategy string

const (
	StrategyDRR        Strategy = "drr"
	StrategyWeighted   Strategy = "weighted"
	StrategyRoundRobin Strategy = "round_robin"
)

// ring 记录队列首次出现的顺序，轮询类策略共用
type ring struct {
	order []string
	index map[string]int
}

func newRing() ring {
	return ring{index: make(map[string]int)}
}

func (r *ring) register(candidates []Candidate) {
	for _, c := range candidates {
		if _, ok := r.index[c.Queue]; !ok {
			r.index[c.Queue] = len(r.order)
			r.order = append(r.order, c.Queue)
		}
	}
}

func toSet(candidates []Candidate) map[string]Candidate {
	set := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		set[c.Queue] = c
	}
	return set
}
