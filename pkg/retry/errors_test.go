package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		kind        types.ErrorKind
		recoverable bool
	}{
		{"unauthorized", "401 Unauthorized - Invalid API key", types.ErrorAuthentication, false},
		{"invalid key only", "Invalid API key provided", types.ErrorAuthentication, false},
		{"too many requests", "429 Too Many Requests", types.ErrorRateLimit, true},
		{"rate limit wording", "you hit the rate limit", types.ErrorRateLimit, true},
		{"econnrefused", "ECONNREFUSED", types.ErrorNetwork, true},
		{"go dial error", `Post "http://127.0.0.1:9/messages": dial tcp 127.0.0.1:9: connect: connection refused`, types.ErrorNetwork, true},
		{"dns failure", "dial tcp: lookup api.example.invalid: no such host", types.ErrorNetwork, true},
		{"client timeout", "context deadline exceeded (Client.Timeout exceeded while awaiting headers)", types.ErrorNetwork, true},
		{"missing key", "Claude API key is required", types.ErrorConfiguration, true},
		{"unregistered", `provider "x" not registered`, types.ErrorConfiguration, true},
		{"anything else", "something odd happened", types.ErrorUnknown, true},
		{"auth wins over network", "ECONNREFUSED after 401", types.ErrorAuthentication, false},
		{"rate limit wins over network", "429 then ECONNREFUSED", types.ErrorRateLimit, true},
		{"port is not a status code", `dial tcp 127.0.0.1:34012: connect: connection refused`, types.ErrorNetwork, true},
		{"port is not a rate limit", `dial tcp 127.0.0.1:14290: connect: connection refused`, types.ErrorNetwork, true},
		{"unexpected eof", "OpenRouter API error: unexpected EOF", types.ErrorNetwork, true},
		{"bare eof", `Post "https://api.anthropic.com/v1/messages": EOF`, types.ErrorNetwork, true},
		{"eof inside a word", "Gemini API error: 400 Bad Request - the prompt and parts thereof were rejected", types.ErrorUnknown, true},
	}

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := CategorizeErrorAt(errors.New(tt.message), now)
			require.NotNil(t, perr)
			assert.Equal(t, tt.kind, perr.Type)
			assert.Equal(t, tt.recoverable, perr.Recoverable)
			assert.Equal(t, tt.message, perr.Message)
			assert.Equal(t, now, perr.Timestamp)
		})
	}
}

func TestCategorizeError_Nil(t *testing.T) {
	assert.Nil(t, CategorizeError(nil))
}

func TestCategorizeError_KeepsProviderError(t *testing.T) {
	orig := &types.ProviderError{Type: types.ErrorRateLimit, Message: "slow down", Recoverable: true}
	wrapped := fmt.Errorf("probe: %w", orig)

	perr := CategorizeError(wrapped)
	require.NotNil(t, perr)
	assert.Equal(t, types.ErrorRateLimit, perr.Type)
	assert.Equal(t, "slow down", perr.Message)
	assert.False(t, perr.Timestamp.IsZero())
	assert.NotSame(t, orig, perr)
}

func TestRules_Order(t *testing.T) {
	require.Len(t, Rules, 4)
	assert.Equal(t, types.ErrorAuthentication, Rules[0].Kind)
	assert.Equal(t, types.ErrorRateLimit, Rules[1].Kind)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("429")))
	assert.True(t, IsRetryable(errors.New("weird")))
	assert.False(t, IsRetryable(errors.New("401")))
	assert.False(t, IsRetryable(errors.New("Gemini API key is required")))
	assert.False(t, IsRetryable(nil))
}
