package response

import "time"

type WaitpointResponse struct {
	ID             string     `json:"id"`
	WaitpointID    uint64     `json:"waitpointId,string"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	Output         string     `json:"output,omitempty"`
	OutputIsError  bool       `json:"outputIsError,omitempty"`
	CompletedAfter *time.Time `json:"completedAfter,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	IsCached       bool       `json:"isCached,omitempty"`
}
