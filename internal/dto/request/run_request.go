package request

import (
	"encoding/json"

	"github.com/jobs/runengine/internal/retry"
)

// TriggerRequest 触发任务
type TriggerRequest struct {
	Payload json.RawMessage `json:"payload"`
	Options TriggerOptions  `json:"options"`
}

type TriggerOptions struct {
	Queue                         string        `json:"queue"`
	Priority                      int           `json:"priority"`
	IdempotencyKey                string        `json:"idempotencyKey"`
	IdempotencyKeyScope           string        `json:"idempotencyKeyScope"`
	FailOnDuplicateIdempotencyKey bool          `json:"failOnDuplicateIdempotencyKey"`
	OneTimeUseToken               string        `json:"oneTimeUseToken"`
	MaxAttempts                   int           `json:"maxAttempts"`
	Retry                         *retry.Config `json:"retry"`
	MaxDuration                   int           `json:"maxDuration"`
	// Delay 时长（"30s" 或毫秒数）或 RFC3339 时间
	Delay                    any            `json:"delay"`
	ParentRunID              string         `json:"parentRunId"`
	ResumeParentOnCompletion bool           `json:"resumeParentOnCompletion"`
	Tags                     []string       `json:"tags"`
	Metadata                 map[string]any `json:"metadata"`
}

type CancelRunRequest struct {
	Reason string `json:"reason"`
}

type ResetIdempotencyKeyRequest struct {
	Key           string `json:"key" binding:"required"`
	Scope         string `json:"scope"`
	ParentRunID   string `json:"parentRunId"`
	ParentAttempt int    `json:"parentAttempt"`
}
