package response

import "time"

type ScheduleResponse struct {
	ID               string         `json:"id"`
	Task             string         `json:"task"`
	Cron             string         `json:"cron"`
	Timezone         string         `json:"timezone,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Active           bool           `json:"active"`
	DeduplicationKey string         `json:"deduplicationKey,omitempty"`
	NextRunAt        *time.Time     `json:"nextRunAt,omitempty"`
	LastRunAt        *time.Time     `json:"lastRunAt,omitempty"`
}
