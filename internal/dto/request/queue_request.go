package request

import "github.com/jobs/runengine/internal/ratelimit"

// UpsertQueueRequest 未传的字段保持原值
type UpsertQueueRequest struct {
	ConcurrencyLimit              *int              `json:"concurrencyLimit"`
	RateLimit                     *ratelimit.Config `json:"rateLimit"`
	Weight                        *int              `json:"weight"`
	ReleaseConcurrencyOnWaitpoint *bool             `json:"releaseConcurrencyOnWaitpoint"`
	Paused                        *bool             `json:"paused"`
}
