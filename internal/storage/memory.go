package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

type catalogEntry struct {
	models    []types.ModelInfo
	expiresAt time.Time
}

// MemoryCatalogCache is the in-process catalog cache used when Redis is disabled
type MemoryCatalogCache struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
	now     func() time.Time
}

// NewMemoryCatalogCache creates an empty in-memory catalog cache
func NewMemoryCatalogCache() *MemoryCatalogCache {
	return &MemoryCatalogCache{
		entries: make(map[string]catalogEntry),
		now:     time.Now,
	}
}

// GetModels returns a copy of the cached catalog if it has not expired
func (c *MemoryCatalogCache) GetModels(ctx context.Context, key string) ([]types.ModelInfo, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return append([]types.ModelInfo(nil), entry.models...), true
}

// SetModels caches models; a ttl of zero never expires
func (c *MemoryCatalogCache) SetModels(ctx context.Context, key string, models []types.ModelInfo, ttl time.Duration) {
	entry := catalogEntry{models: append([]types.ModelInfo(nil), models...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// MemoryRateLimiter keeps one token bucket per key
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryRateLimiter creates an in-memory rate limiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether key may make another request. The bucket holds
// limit tokens and refills at limit per window.
func (m *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	m.mu.Lock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), int(limit))
		m.limiters[key] = l
	}
	m.mu.Unlock()

	return l.Allow(), nil
}
