package runqueue

import (
	"fmt"
	"strconv"
	"time"
)

const (
	MaxPriority = 100
	// priorityWeight 把优先级折算到排序分值中，保证高优先级总是排在前面
	priorityWeight = 1e13
)

// Entry 队列中的一条 run 记录，id 即 run id
type Entry struct {
	RunID          uint64    `json:"runId,string"`
	OrganizationID string    `json:"organizationId"`
	EnvironmentID  string    `json:"environmentId"`
	Queue          string    `json:"queue"`
	TaskIdentifier string    `json:"taskIdentifier"`
	Priority       int       `json:"priority"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
	AvailableAt    time.Time `json:"availableAt"`
	Attempt        int       `json:"attempt"`
	Continuation   bool      `json:"continuation"`
}

func (e Entry) ID() string {
	return strconv.FormatUint(e.RunID, 10)
}

// readyScore 分值越小越先出队：优先级高者在前，同优先级按入队时间先后
func (e Entry) readyScore() float64 {
	return float64(e.EnqueuedAt.UnixMilli()) - float64(e.Priority)*priorityWeight
}

func (e Entry) validate() error {
	switch {
	case e.RunID == 0:
		return fmt.Errorf("entry has no run id")
	case e.EnvironmentID == "":
		return fmt.Errorf("entry %d has no environment", e.RunID)
	case e.Queue == "":
		return fmt.Errorf("entry %d has no queue", e.RunID)
	case e.Priority < 0 || e.Priority > MaxPriority:
		return fmt.Errorf("entry %d priority %d out of range [0,%d]", e.RunID, e.Priority, MaxPriority)
	}
	return nil
}

// LegacyQueueKey 旧版按槽位轮询的队列 key
func LegacyQueueKey(queueID string, slot int) string {
	return fmt.Sprintf("job:queue:%s:%d", queueID, slot)
}
