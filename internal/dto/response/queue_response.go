package response

import "github.com/jobs/runengine/internal/ratelimit"

type QueueResponse struct {
	ID                            uint64            `json:"id,string"`
	Name                          string            `json:"name"`
	ConcurrencyLimit              int               `json:"concurrencyLimit"`
	RateLimit                     *ratelimit.Config `json:"rateLimit,omitempty"`
	Weight                        int               `json:"weight"`
	ReleaseConcurrencyOnWaitpoint bool              `json:"releaseConcurrencyOnWaitpoint"`
	Paused                        bool              `json:"paused"`
	Running                       int64             `json:"running"`
	Queued                        int64             `json:"queued"`
}
