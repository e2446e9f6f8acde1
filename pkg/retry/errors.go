// Package retry provides provider error classification and recovery retries
package retry

import (
	"errors"
	"strings"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

// ErrorRule maps message markers to an error kind. Rules are evaluated in
// order and the first rule with a matching pattern wins.
type ErrorRule struct {
	Kind        types.ErrorKind
	Recoverable bool
	Patterns    []string
}

// Matches reports whether any pattern occurs in message, ignoring case.
// Numeric patterns such as status codes only match as whole numbers, so a
// port like 34012 never reads as a 401. Single-word patterns such as EOF
// only match as whole words, so "thereof" is not a network error.
func (r ErrorRule) Matches(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range r.Patterns {
		p = strings.ToLower(p)
		switch {
		case isNumeric(p):
			if containsToken(lower, p, isDigit) {
				return true
			}
		case isWord(p):
			if containsToken(lower, p, isWordByte) {
				return true
			}
		default:
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isWordByte(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

// containsToken reports whether token occurs in s with no inner byte on
// either side of it
func containsToken(s, token string, inner func(byte) bool) bool {
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], token)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(token)
		if (start == 0 || !inner(s[start-1])) && (end == len(s) || !inner(s[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

// Rules is the ordered categorization table. Authentication and rate-limit
// markers come first because provider messages often carry several markers.
var Rules = []ErrorRule{
	{
		Kind:        types.ErrorAuthentication,
		Recoverable: false,
		Patterns:    []string{"401", "Unauthorized", "Invalid API key"},
	},
	{
		Kind:        types.ErrorRateLimit,
		Recoverable: true,
		Patterns:    []string{"429", "Too Many Requests", "rate limit"},
	},
	{
		Kind:        types.ErrorNetwork,
		Recoverable: true,
		Patterns: []string{
			"ECONNREFUSED", "ECONNRESET", "ENOTFOUND", "ETIMEDOUT",
			"connection refused", "connection reset", "no such host",
			"network is unreachable", "i/o timeout", "Client.Timeout exceeded",
			"context deadline exceeded", "EOF",
		},
	},
	{
		Kind:        types.ErrorConfiguration,
		Recoverable: true,
		Patterns:    []string{"API key is required", "not registered", "configuration is invalid"},
	},
}

// CategorizeError turns an arbitrary error into a ProviderError. An error that
// already is a ProviderError is returned as a copy, untouched.
func CategorizeError(err error) *types.ProviderError {
	return CategorizeErrorAt(err, time.Now())
}

// CategorizeErrorAt is CategorizeError with an explicit timestamp
func CategorizeErrorAt(err error, now time.Time) *types.ProviderError {
	if err == nil {
		return nil
	}

	var pe *types.ProviderError
	if errors.As(err, &pe) {
		out := *pe
		if out.Timestamp.IsZero() {
			out.Timestamp = now
		}
		return &out
	}

	message := err.Error()
	kind, recoverable := Classify(message)
	return &types.ProviderError{
		Type:        kind,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   now,
	}
}

// Classify returns the kind and recoverability for a raw message
func Classify(message string) (types.ErrorKind, bool) {
	for _, rule := range Rules {
		if rule.Matches(message) {
			return rule.Kind, rule.Recoverable
		}
	}
	return types.ErrorUnknown, true
}

// NewConfigurationError builds a CONFIGURATION_ERROR ProviderError
func NewConfigurationError(message string, now time.Time) *types.ProviderError {
	return &types.ProviderError{
		Type:        types.ErrorConfiguration,
		Message:     message,
		Recoverable: true,
		Timestamp:   now,
	}
}

// IsRetryable reports whether an automatic retry may help. Configuration
// errors are recoverable by reconfiguring, not by retrying.
func IsRetryable(err error) bool {
	pe := CategorizeError(err)
	if pe == nil {
		return false
	}
	return pe.Recoverable && pe.Type != types.ErrorConfiguration
}
