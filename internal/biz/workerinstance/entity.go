package workerinstance

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type WorkerInstance struct {
	ID                string
	CreatedAt         time.Time
	Name              string
	WorkerGroup       string
	EnvironmentID     string
	DeploymentVersion string
	Status            Status
	LastHeartbeatAt   time.Time
	Metadata          map[string]any
}

// IsStale 最后心跳早于 now - staleAfter
func (w *WorkerInstance) IsStale(now time.Time, staleAfter time.Duration) bool {
	return w.LastHeartbeatAt.Before(now.Add(-staleAfter))
}
