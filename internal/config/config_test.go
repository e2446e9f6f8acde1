package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, env := range providerEnv {
		for _, name := range append(append([]string{}, env.keys...), env.models...) {
			t.Setenv(name, "")
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestManager_Defaults(t *testing.T) {
	clearProviderEnv(t)

	m := NewManager(nil)
	require.NoError(t, m.Load())
	require.NoError(t, m.Validate())

	cfg := m.Get()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, int64(60), cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	assert.Equal(t, "mock", cfg.Providers.Default)
	assert.Equal(t, time.Hour, cfg.Providers.AttentionThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Providers.CatalogTTL)
	assert.Zero(t, cfg.Providers.MonitorInterval)
	assert.Equal(t, *types.DefaultRetryPolicy(), cfg.Providers.Recovery)
	assert.Empty(t, cfg.Providers.Entries)
}

func TestManager_ConfigFile(t *testing.T) {
	clearProviderEnv(t)

	path := writeConfig(t, `
server:
  port: 9090
providers:
  default: openrouter
  attention_threshold: 15m
  recovery:
    max_retries: 2
    base_delay: 500ms
  entries:
    openrouter:
      api_key: or-key
      model: anthropic/claude-3.5-sonnet
      max_tokens: 2000
      temperature: 0.3
`)

	m := NewManager(nil)
	m.SetConfigFile(path)
	require.NoError(t, m.Load())
	require.NoError(t, m.Validate())
	assert.Equal(t, path, m.ConfigFileUsed())

	cfg := m.Get()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openrouter", cfg.Providers.Default)
	assert.Equal(t, 15*time.Minute, cfg.Providers.AttentionThreshold)
	assert.Equal(t, 2, cfg.Providers.Recovery.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Providers.Recovery.BaseDelay)

	entry := cfg.Providers.Entries["openrouter"]
	assert.Equal(t, "or-key", entry.APIKey)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", entry.Model)
	require.NotNil(t, entry.MaxTokens)
	assert.Equal(t, 2000, *entry.MaxTokens)
	require.NotNil(t, entry.Temperature)
	assert.Equal(t, 0.3, *entry.Temperature)
}

func TestManager_MissingExplicitFile(t *testing.T) {
	m := NewManager(nil)
	m.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, m.Load())
}

func TestManager_EnvironmentOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANALYZER_SERVER_PORT", "7070")
	t.Setenv("ANALYZER_PROVIDERS_DEFAULT", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "from-anthropic")
	t.Setenv("OPENROUTER_MODEL", "openai/gpt-4o")

	path := writeConfig(t, `
providers:
  entries:
    claude:
      api_key: from-file
`)

	m := NewManager(nil)
	m.SetConfigFile(path)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Providers.Default)
	assert.Equal(t, "from-anthropic", cfg.Providers.Entries["claude"].APIKey)
	assert.Equal(t, "openai/gpt-4o", cfg.Providers.Entries["openrouter"].Model)
	assert.Empty(t, cfg.Providers.Entries["openrouter"].APIKey)

	t.Setenv("CLAUDE_API_KEY", "from-claude")
	require.NoError(t, m.Load())
	assert.Equal(t, "from-claude", m.Get().Providers.Entries["claude"].APIKey)
}

func validConfig() *types.Config {
	return &types.Config{
		Server:    types.ServerConfig{Port: 8080},
		Logging:   types.LoggingConfig{Level: "info"},
		RateLimit: types.RateLimitConfig{Enabled: true, Requests: 10, Window: time.Minute},
		Providers: types.ProvidersConfig{Default: "mock"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Config)
		errMsg string
	}{
		{"valid", func(*types.Config) {}, ""},
		{"port", func(c *types.Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"log level", func(c *types.Config) { c.Logging.Level = "loud" }, "invalid logging level"},
		{"redis port", func(c *types.Config) { c.Redis = types.RedisConfig{Enabled: true} }, "invalid redis port"},
		{"rate limit", func(c *types.Config) { c.RateLimit.Requests = 0 }, "rate limit"},
		{"default provider", func(c *types.Config) { c.Providers.Default = "gpt" }, "unknown default provider"},
		{"unknown entry", func(c *types.Config) {
			c.Providers.Entries = map[string]types.ProviderConfig{"zhipu": {APIKey: "k"}}
		}, "unknown provider"},
		{"temperature", func(c *types.Config) {
			c.Providers.Entries = map[string]types.ProviderConfig{"claude": {Temperature: types.Float64Ptr(2)}}
		}, "provider claude"},
		{"max tokens", func(c *types.Config) {
			c.Providers.Entries = map[string]types.ProviderConfig{"gemini": {MaxTokens: types.IntPtr(0)}}
		}, "provider gemini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestApplyProviders(t *testing.T) {
	reg := providers.CreateDefault()
	cfg := validConfig()
	cfg.Providers.Default = "openrouter"
	cfg.Providers.Entries = map[string]types.ProviderConfig{
		"claude":     {APIKey: "k1"},
		"openrouter": {APIKey: "k2", Model: "m"},
	}

	require.NoError(t, ApplyProviders(reg, cfg, nil))
	assert.Equal(t, "openrouter", reg.DefaultProviderName())

	claude, ok := reg.ProviderInfo("claude")
	require.True(t, ok)
	assert.True(t, claude.Configured)
	assert.Equal(t, "claude-3-haiku-20240307", claude.Model)

	openrouter, _ := reg.ProviderInfo("openrouter")
	assert.Equal(t, "m", openrouter.Model)

	t.Run("unchanged entries keep their status", func(t *testing.T) {
		st := types.ProviderStatus{Status: types.StatusError, Error: &types.ProviderError{Type: types.ErrorRateLimit, Message: "429"}, ErrorMessage: "429"}
		reg.SetProviderStatus("claude", st)

		require.NoError(t, ApplyProviders(reg, cfg, nil))
		got, _ := reg.ProviderStatus("claude")
		assert.Equal(t, "429", got.ErrorMessage)

		cfg.Providers.Entries["claude"] = types.ProviderConfig{APIKey: "rotated"}
		require.NoError(t, ApplyProviders(reg, cfg, nil))
		got, _ = reg.ProviderStatus("claude")
		assert.Empty(t, got.ErrorMessage)
		assert.Nil(t, got.Error)
	})

	t.Run("unknown names are reported", func(t *testing.T) {
		bad := validConfig()
		bad.Providers.Entries = map[string]types.ProviderConfig{"zhipu": {APIKey: "k"}, "gemini": {APIKey: "g"}}
		err := ApplyProviders(reg, bad, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "zhipu")

		gemini, _ := reg.ProviderInfo("gemini")
		assert.True(t, gemini.Configured)
	})
}

func TestRegistryOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.AttentionThreshold = time.Minute
	cfg.Providers.Recovery = types.RetryPolicy{MaxRetries: 1, BackoffFactor: 2}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := providers.CreateDefault(append(RegistryOptions(cfg), providers.WithClock(clock))...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.True(t, reg.TestProvider(ctx, "mock"))
	now = now.Add(2 * time.Minute)
	assert.Contains(t, reg.ProvidersNeedingAttention(), "mock")
}

func TestManager_Watch(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, "server:\n  port: 8081\n")

	m := NewManager(nil)
	m.SetConfigFile(path)
	require.NoError(t, m.Load())

	var reloaded atomic.Int32
	m.Watch(func(cfg *types.Config) {
		if cfg.Server.Port == 8082 {
			reloaded.Add(1)
		}
	})

	// an invalid change is ignored
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 8081, m.Get().Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o644))
	assert.Eventually(t, func() bool { return reloaded.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 8082, m.Get().Server.Port)
}
