package storage

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisClientFromClient(client, nil)
}

var sampleModels = []types.ModelInfo{
	{ID: "anthropic/claude-3-haiku", Name: "Claude 3 Haiku", ContextLength: 200000, Popular: true},
	{ID: "acme/tiny", Name: "Tiny"},
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), &types.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr)}, nil)
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()))

	mr.Close()
	_, err = NewRedisClient(context.Background(), &types.RedisConfig{Host: "127.0.0.1", Port: 1}, nil)
	assert.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestRedisClient_GetSet(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()

	var out map[string]int
	assert.ErrorIs(t, rc.Get(ctx, "missing", &out), ErrCacheMiss)

	require.NoError(t, rc.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, rc.Get(ctx, "k", &out))
	assert.Equal(t, map[string]int{"a": 1}, out)

	require.NoError(t, rc.Delete(ctx, "k"))
	assert.ErrorIs(t, rc.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestRedisCatalogCache(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewRedisCatalogCache(rc)
	ctx := context.Background()

	_, ok := cache.GetModels(ctx, "openrouter:abc")
	assert.False(t, ok)

	cache.SetModels(ctx, "openrouter:abc", sampleModels, time.Minute)
	assert.True(t, mr.Exists("catalog:openrouter:abc"))

	models, ok := cache.GetModels(ctx, "openrouter:abc")
	require.True(t, ok)
	assert.Equal(t, sampleModels, models)

	mr.FastForward(2 * time.Minute)
	_, ok = cache.GetModels(ctx, "openrouter:abc")
	assert.False(t, ok)

	cache.SetModels(ctx, "a", sampleModels, time.Minute)
	cache.SetModels(ctx, "b", sampleModels, time.Minute)
	require.NoError(t, cache.Invalidate(ctx))
	assert.False(t, mr.Exists("catalog:a"))
	assert.False(t, mr.Exists("catalog:b"))
}

func TestRedisCatalogCache_ServerDown(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewRedisCatalogCache(rc)
	mr.Close()

	cache.SetModels(context.Background(), "k", sampleModels, time.Minute)
	_, ok := cache.GetModels(context.Background(), "k")
	assert.False(t, ok)
}

func TestRateLimiter(t *testing.T) {
	_, rc := newTestRedis(t)
	rl := NewRateLimiter(rc)
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := rl.GetCount(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	now = now.Add(2 * time.Minute)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rl.Reset(ctx, "1.2.3.4"))
	count, err = rl.GetCount(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryCatalogCache(t *testing.T) {
	cache := NewMemoryCatalogCache()
	now := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok := cache.GetModels(ctx, "k")
	assert.False(t, ok)

	cache.SetModels(ctx, "k", sampleModels, time.Minute)
	models, ok := cache.GetModels(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, sampleModels, models)

	models[0].Name = "changed"
	again, _ := cache.GetModels(ctx, "k")
	assert.Equal(t, "Claude 3 Haiku", again[0].Name)

	now = now.Add(time.Minute)
	_, ok = cache.GetModels(ctx, "k")
	assert.False(t, ok)

	cache.SetModels(ctx, "forever", sampleModels, 0)
	now = now.Add(24 * time.Hour)
	_, ok = cache.GetModels(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryRateLimiter(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "ip", 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ip", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 2, time.Hour)
	assert.True(t, ok)

	ok, _ = rl.Allow(ctx, "unlimited", 0, time.Hour)
	assert.True(t, ok)
}
