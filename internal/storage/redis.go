// Package storage provides Redis backed caching and rate limiting
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// ErrCacheMiss is returned by Get when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// RedisClient wraps redis.Client with JSON helpers
type RedisClient struct {
	client *redis.Client
	logger *utils.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, config *types.RedisConfig, logger *utils.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.Database,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger.WithField("addr", client.Options().Addr).Info("Connected to Redis")

	return &RedisClient{client: client, logger: logger}, nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client, logger *utils.Logger) *RedisClient {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &RedisClient{client: client, logger: logger}
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping tests Redis connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Set stores value as JSON with a TTL
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON value stored at key into dest
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// Delete removes keys
func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// RedisCatalogCache stores provider model catalogs in Redis
type RedisCatalogCache struct {
	redis     *RedisClient
	keyPrefix string
}

// NewRedisCatalogCache creates a catalog cache under the "catalog:" prefix
func NewRedisCatalogCache(redis *RedisClient) *RedisCatalogCache {
	return &RedisCatalogCache{redis: redis, keyPrefix: "catalog:"}
}

// GetModels returns the cached catalog for key. Redis errors count as misses.
func (c *RedisCatalogCache) GetModels(ctx context.Context, key string) ([]types.ModelInfo, bool) {
	var models []types.ModelInfo
	if err := c.redis.Get(ctx, c.keyPrefix+key, &models); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.redis.logger.WithError(err).Warn("Catalog cache read failed")
		}
		return nil, false
	}
	return models, true
}

// SetModels caches models for ttl. Failures are logged, never returned.
func (c *RedisCatalogCache) SetModels(ctx context.Context, key string, models []types.ModelInfo, ttl time.Duration) {
	if err := c.redis.Set(ctx, c.keyPrefix+key, models, ttl); err != nil {
		c.redis.logger.WithError(err).Warn("Catalog cache write failed")
	}
}

// Invalidate drops every cached catalog
func (c *RedisCatalogCache) Invalidate(ctx context.Context) error {
	iter := c.redis.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) > 0 {
		return c.redis.Delete(ctx, keys...)
	}
	return nil
}

// RateLimiter is a sliding window limiter on Redis sorted sets
type RateLimiter struct {
	redis     *RedisClient
	keyPrefix string
	now       func() time.Time
}

// NewRateLimiter creates a Redis rate limiter
func NewRateLimiter(redis *RedisClient) *RateLimiter {
	return &RateLimiter{
		redis:     redis,
		keyPrefix: "rate_limit:",
		now:       time.Now,
	}
}

// Allow records a request for key and reports whether it fits in the window
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	redisKey := rl.keyPrefix + key

	now := rl.now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := rl.redis.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	// unique member so concurrent requests in the same nanosecond all count
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString()})
	pipe.Expire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}

	return countCmd.Val() < limit, nil
}

// GetCount returns the requests recorded for key
func (rl *RateLimiter) GetCount(ctx context.Context, key string) (int64, error) {
	return rl.redis.client.ZCard(ctx, rl.keyPrefix+key).Result()
}

// Reset clears the window for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Delete(ctx, rl.keyPrefix+key)
}
