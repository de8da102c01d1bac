package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type claimedJob struct {
	job       Job
	visibleAt time.Time
}

type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	slots    map[string][]Job
	inflight map[string]map[string]claimedJob
	dedup    map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		slots:    make(map[string][]Job),
		inflight: make(map[string]map[string]claimedJob),
		dedup:    make(map[string]time.Time),
	}
}

func (s *MemoryStore) Push(_ context.Context, slotKey string, job Job, dedupTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.dedup[job.ID]; ok && now.Before(exp) {
		return false, nil
	}
	s.dedup[job.ID] = now.Add(dedupTTL)
	s.insert(slotKey, job)
	return true, nil
}

func (s *MemoryStore) Retry(_ context.Context, slotKey string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight[slotKey], job.ID)
	s.insert(slotKey, job)
	return nil
}

func (s *MemoryStore) insert(slotKey string, job Job) {
	jobs := append(s.slots[slotKey], job)
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	s.slots[slotKey] = jobs
}

func (s *MemoryStore) Claim(_ context.Context, slotKey string, now, visibleAt time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed, ok := s.inflight[slotKey]
	if !ok {
		claimed = make(map[string]claimedJob)
		s.inflight[slotKey] = claimed
	}
	for id, c := range claimed {
		if !c.visibleAt.After(now) {
			delete(claimed, id)
			s.insert(slotKey, c.job)
		}
	}

	jobs := s.slots[slotKey]
	if len(jobs) == 0 || jobs[0].RunAt.After(now) {
		return nil, nil
	}
	job := jobs[0]
	s.slots[slotKey] = jobs[1:]
	claimed[job.ID] = claimedJob{job: job, visibleAt: visibleAt}
	return &job, nil
}

func (s *MemoryStore) Ack(_ context.Context, slotKey, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight[slotKey], jobID)
	return nil
}
