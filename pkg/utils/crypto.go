package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// HashAPIKey returns a stable, non-reversible fingerprint of an API key,
// used wherever a key has to appear in a cache key.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}
