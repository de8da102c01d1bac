package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// 领域层错误定义

var (
	// Run相关错误
	ErrRunNotFound   = errors.New("run not found")
	ErrRunFinished   = errors.New("run already finished")
	ErrRunCancelled  = errors.New("run cancelled")
	ErrStaleSnapshot = errors.New("snapshot is no longer the latest")

	// Waitpoint相关错误
	ErrWaitpointNotFound         = errors.New("waitpoint not found")
	ErrWaitpointAlreadyCompleted = errors.New("waitpoint already completed")

	// Queue / Schedule 相关错误
	ErrQueueNotFound    = errors.New("queue not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrWorkerNotFound   = errors.New("worker instance not found")

	// 通用错误
	ErrUnauthorized    = errors.New("unauthorized")
	ErrDuplicateRecord = errors.New("duplicate record")
)

// DomainError 领域错误接口
type DomainError interface {
	error
	Code() string
	Message() string
}

// BusinessError 业务错误
type BusinessError struct {
	code    string
	message string
	cause   error
}

func NewBusinessError(code, message string, cause error) *BusinessError {
	return &BusinessError{
		code:    code,
		message: message,
		cause:   cause,
	}
}

func (e *BusinessError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *BusinessError) Code() string {
	return e.code
}

func (e *BusinessError) Message() string {
	return e.message
}

func (e *BusinessError) Unwrap() error {
	return e.cause
}

// ServiceValidationError 输入校验失败，Status 为返回给调用方的 HTTP 状态码
type ServiceValidationError struct {
	Msg    string
	Status int
}

func NewValidationError(format string, args ...any) *ServiceValidationError {
	return &ServiceValidationError{Msg: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

func (e *ServiceValidationError) Error() string { return e.Msg }

func (e *ServiceValidationError) Code() string { return "VALIDATION_ERROR" }

func (e *ServiceValidationError) Message() string { return e.Msg }

func (e *ServiceValidationError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// RunDuplicateIdempotencyKeyError 幂等键冲突，且不能复用已有 run
type RunDuplicateIdempotencyKeyError struct {
	IdempotencyKey string
	RunID          uint64
}

func (e *RunDuplicateIdempotencyKeyError) Error() string {
	if e.RunID != 0 {
		return fmt.Sprintf("idempotency key %q is already held by run %d", e.IdempotencyKey, e.RunID)
	}
	return fmt.Sprintf("idempotency key %q conflicts with another run", e.IdempotencyKey)
}

func (e *RunDuplicateIdempotencyKeyError) Code() string { return "DUPLICATE_IDEMPOTENCY_KEY" }

func (e *RunDuplicateIdempotencyKeyError) Message() string { return e.Error() }

// RunOneTimeUseTokenError 一次性 token 已被使用
type RunOneTimeUseTokenError struct {
	Token string
}

func (e *RunOneTimeUseTokenError) Error() string {
	return "one-time use token has already been used"
}

func (e *RunOneTimeUseTokenError) Code() string { return "ONE_TIME_USE_TOKEN_USED" }

func (e *RunOneTimeUseTokenError) Message() string { return e.Error() }

// MessageNotFoundError 队列中不存在该条目，ack 一个已被处理的条目时可以安全忽略
type MessageNotFoundError struct {
	MessageID string
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("queue message %s not found", e.MessageID)
}

func (e *MessageNotFoundError) Code() string { return "MESSAGE_NOT_FOUND" }

func (e *MessageNotFoundError) Message() string { return e.Error() }

// IsRetryable 判断错误是否为暂时性错误（锁超时、快照过期），调用方可以重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleSnapshot) {
		return true
	}
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// IsMessageNotFound 判断是否为 MessageNotFoundError
func IsMessageNotFound(err error) bool {
	var target *MessageNotFoundError
	return errors.As(err, &target)
}
