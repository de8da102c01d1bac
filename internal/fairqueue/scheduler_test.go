package fairqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s Scheduler, candidates []Candidate, rounds int) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	for i := 0; i < rounds; i++ {
		q, ok := s.Next(candidates)
		require.True(t, ok)
		s.Served(q)
		counts[q]++
	}
	return counts
}

// TestDRRProportional 权重 1:3，400 轮后出队次数为 100:300，deficit 始终非负
func TestDRRProportional(t *testing.T) {
	s := NewDRR()
	candidates := []Candidate{{Queue: "a", Weight: 1}, {Queue: "b", Weight: 3}}

	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		q, ok := s.Next(candidates)
		require.True(t, ok)
		s.Served(q)
		counts[q]++
		assert.GreaterOrEqual(t, s.Deficit("a"), 0)
		assert.GreaterOrEqual(t, s.Deficit("b"), 0)
	}
	assert.Equal(t, 100, counts["a"])
	assert.Equal(t, 300, counts["b"])
}

func TestDRRIdleQueueDoesNotAccumulate(t *testing.T) {
	s := NewDRR()
	both := []Candidate{{Queue: "a", Weight: 1}, {Queue: "b", Weight: 5}}
	onlyA := []Candidate{{Queue: "a", Weight: 1}}

	q, _ := s.Next(both)
	assert.Equal(t, "a", q)
	s.Served(q)

	// b 暂时没有可出队条目
	serve(t, s, onlyA, 10)
	assert.Equal(t, 0, s.Deficit("b"))

	counts := serve(t, s, both, 12)
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 10, counts["b"])
}

func TestWeightedProportional(t *testing.T) {
	s := NewWeighted()
	counts := serve(t, s, []Candidate{{Queue: "a", Weight: 1}, {Queue: "b", Weight: 3}}, 400)
	assert.Equal(t, 100, counts["a"])
	assert.Equal(t, 300, counts["b"])
}

func TestRoundRobinCycles(t *testing.T) {
	s := NewRoundRobin()
	candidates := []Candidate{{Queue: "a"}, {Queue: "b"}, {Queue: "c"}}

	var order []string
	for i := 0; i < 6; i++ {
		q, ok := s.Next(candidates)
		require.True(t, ok)
		s.Served(q)
		order = append(order, q)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)

	// b 不可用时跳过
	q, ok := s.Next([]Candidate{{Queue: "a"}, {Queue: "c"}})
	require.True(t, ok)
	assert.Equal(t, "a", q)
	s.Served(q)
	q, _ = s.Next([]Candidate{{Queue: "a"}, {Queue: "c"}})
	assert.Equal(t, "c", q)
}

// TestNeverSelectsOutsideCandidates 任何策略都不会返回候选列表之外的队列
func TestNeverSelectsOutsideCandidates(t *testing.T) {
	for _, strategy := range []Strategy{StrategyDRR, StrategyWeighted, StrategyRoundRobin} {
		t.Run(string(strategy), func(t *testing.T) {
			s, err := NewManager().New(strategy)
			require.NoError(t, err)

			all := []Candidate{{Queue: "a", Weight: 2}, {Queue: "b", Weight: 1}, {Queue: "c", Weight: 4}}
			for i := 0; i < 90; i++ {
				subset := []Candidate{all[i%3], all[(i+1)%3]}
				q, ok := s.Next(subset)
				require.True(t, ok)
				assert.Contains(t, []string{subset[0].Queue, subset[1].Queue}, q)
				s.Served(q)
			}

			_, ok := s.Next(nil)
			assert.False(t, ok)
		})
	}
}

// TestDeterministic 相同状态与输入顺序得到相同结果
func TestDeterministic(t *testing.T) {
	for _, strategy := range []Strategy{StrategyDRR, StrategyWeighted, StrategyRoundRobin} {
		t.Run(string(strategy), func(t *testing.T) {
			m := NewManager()
			s1, _ := m.New(strategy)
			s2, _ := m.New(strategy)
			candidates := []Candidate{{Queue: "x", Weight: 3}, {Queue: "y", Weight: 2}, {Queue: "z", Weight: 1}}

			for i := 0; i < 60; i++ {
				q1, _ := s1.Next(candidates)
				q2, _ := s2.Next(candidates)
				require.Equal(t, q1, q2, "round %d", i)
				s1.Served(q1)
				s2.Served(q2)
			}
		})
	}
}

func TestManagerUnknownStrategy(t *testing.T) {
	m := NewManager()
	_, err := m.New("lottery")
	assert.Error(t, err)
	assert.Equal(t, "drr", m.NewOrDefault("lottery").Name())
}
