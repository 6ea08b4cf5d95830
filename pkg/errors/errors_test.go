package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test error")
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
}

func TestAppError_Wrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	assert.Equal(t, "INTERNAL_ERROR: wrapped error: original error", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(ErrCodeRateLimit))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("SOMETHING_ELSE"))
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewInvalidInputError("bad field").
		WithDetail("field", "networkId").
		WithDetail("max", 256)

	assert.Equal(t, "networkId", err.Details["field"])
	assert.Equal(t, 256, err.Details["max"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("room"), ErrCodeNotFound, http.StatusNotFound},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{"unavailable", NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"bad gateway", NewBadGatewayError(errors.New("down"), "x"), ErrCodeBadGateway, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}

	assert.Equal(t, "room not found", NewNotFoundError("room").Message)
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("registry entry")

	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("lookup: %w", appErr)
	require.NotNil(t, GetAppError(wrapped))
	assert.Same(t, appErr, GetAppError(wrapped))

	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}
