package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrInvalidRequest:   http.StatusBadRequest,
		ErrMissingAPIKey:    http.StatusBadRequest,
		ErrInvalidModel:     http.StatusBadRequest,
		ErrUnsupported:      http.StatusBadRequest,
		ErrNotFound:         http.StatusNotFound,
		ErrConflict:         http.StatusConflict,
		ErrRateLimited:      http.StatusTooManyRequests,
		ErrServiceUnhealthy: http.StatusServiceUnavailable,
		ErrProviderError:    http.StatusInternalServerError,
		ErrInternalServer:   http.StatusInternalServerError,
	}
	for code, want := range tests {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, StatusFor(code))
			assert.Equal(t, want, New(code, "x").HTTPStatusCode)
		})
	}
}

func TestAPIError(t *testing.T) {
	err := Newf(ErrProviderError, "provider %s failed", "claude")
	assert.Equal(t, "PROVIDER_ERROR: provider claude failed", err.Error())

	detailed := err.WithDetails("RATE_LIMIT")
	assert.Empty(t, err.Details)
	assert.Equal(t, "PROVIDER_ERROR: provider claude failed (RATE_LIMIT)", detailed.Error())

	data, marshalErr := json.Marshal(detailed)
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"code":"PROVIDER_ERROR","message":"provider claude failed","details":"RATE_LIMIT"}`, string(data))
}
