package types

import (
	"time"
)

// Config is the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	Mode         string        `mapstructure:"mode"`
}

// RedisConfig represents Redis configuration. Redis is optional; when
// disabled the catalog cache and rate limiter run in memory.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig limits API requests per client IP
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ProvidersConfig configures the provider registry
type ProvidersConfig struct {
	Default            string                    `mapstructure:"default"`
	AttentionThreshold time.Duration             `mapstructure:"attention_threshold"`
	ProbeTimeout       time.Duration             `mapstructure:"probe_timeout"`
	CatalogTTL         time.Duration             `mapstructure:"catalog_ttl"`
	MonitorInterval    time.Duration             `mapstructure:"monitor_interval"`
	Recovery           RetryPolicy               `mapstructure:"recovery"`
	Entries            map[string]ProviderConfig `mapstructure:"entries"`
}

// RetryPolicy defines retry behavior for provider recovery
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
}

// DefaultRetryPolicy retries once, immediately
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    0,
		BaseDelay:     0,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}
