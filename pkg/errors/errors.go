// Package errors defines the API error envelope returned by the HTTP layer
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode identifies an API error class
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrMissingAPIKey    ErrorCode = "MISSING_API_KEY"
	ErrInvalidModel     ErrorCode = "INVALID_MODEL"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrUnsupported      ErrorCode = "UNSUPPORTED"
	ErrProviderError    ErrorCode = "PROVIDER_ERROR"
	ErrInternalServer   ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrServiceUnhealthy ErrorCode = "SERVICE_UNAVAILABLE"
)

// APIError is an error that knows its HTTP status
type APIError struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	Details        string    `json:"details,omitempty"`
	HTTPStatusCode int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an API error
func New(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:           code,
		Message:        message,
		HTTPStatusCode: StatusFor(code),
	}
}

// Newf creates an API error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *APIError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails returns a copy carrying details
func (e *APIError) WithDetails(details string) *APIError {
	out := *e
	out.Details = details
	return &out
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrMissingAPIKey, ErrInvalidModel, ErrUnsupported:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrServiceUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
