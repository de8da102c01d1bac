package response

import "time"

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// OKResponse 无返回数据的操作
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
