package request

import "encoding/json"

type CreateTokenRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	// Timeout 时长或 RFC3339 时间，到期后以超时错误完成
	Timeout any `json:"timeout"`
}

type CompleteTokenRequest struct {
	Data json.RawMessage `json:"data"`
}
