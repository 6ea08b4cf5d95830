package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code returned in HTTP error bodies.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"
)

var defaultStatus = map[ErrorCode]int{
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeRateLimit:          http.StatusTooManyRequests,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeBadGateway:         http.StatusBadGateway,
}

// StatusFor returns the HTTP status normally paired with code.
func StatusFor(code ErrorCode) int {
	if status, ok := defaultStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is an error that knows how to render itself over HTTP.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	// Details are returned to the client alongside the message.
	Details map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusFor(code)}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, resource+" not found")
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded")
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func NewServiceUnavailableError(message string) *AppError {
	return New(ErrCodeServiceUnavailable, message)
}

func NewBadGatewayError(err error, message string) *AppError {
	return Wrap(err, ErrCodeBadGateway, message)
}

// GetAppError returns the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
