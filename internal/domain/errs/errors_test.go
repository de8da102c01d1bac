package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type retryableErr struct{}

func (retryableErr) Error() string   { return "lock busy" }
func (retryableErr) Retryable() bool { return true }

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("complete attempt: %w", ErrStaleSnapshot)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", retryableErr{})))
	assert.False(t, IsRetryable(ErrRunNotFound))
	assert.False(t, IsRetryable(&RunOneTimeUseTokenError{Token: "t"}))
	assert.False(t, IsRetryable(nil))
}

func TestBusinessErrorUnwrap(t *testing.T) {
	err := NewBusinessError("RUN_NOT_FOUND", "load run", ErrRunNotFound)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.Equal(t, "load run: run not found", err.Error())
	assert.Equal(t, "RUN_NOT_FOUND", err.Code())
}

func TestValidationErrorStatus(t *testing.T) {
	err := NewValidationError("priority %d out of range", 500)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "priority 500 out of range", err.Error())

	err.Status = http.StatusUnprocessableEntity
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus())
}

func TestIsMessageNotFound(t *testing.T) {
	err := fmt.Errorf("ack: %w", &MessageNotFoundError{MessageID: "42"})
	assert.True(t, IsMessageNotFound(err))
	assert.False(t, IsMessageNotFound(ErrRunNotFound))
}
