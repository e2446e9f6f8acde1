// Package config provides configuration management for the analyzer
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. ANALYZER_SERVER_PORT
const EnvPrefix = "ANALYZER"

// providerEnv lists the conventional variables read for each built-in
// provider. Earlier names win.
var providerEnv = map[string]struct {
	keys   []string
	models []string
}{
	"claude":     {keys: []string{"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"}, models: []string{"CLAUDE_MODEL", "ANTHROPIC_MODEL"}},
	"gemini":     {keys: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, models: []string{"GEMINI_MODEL"}},
	"openrouter": {keys: []string{"OPENROUTER_API_KEY"}, models: []string{"OPENROUTER_MODEL"}},
}

// Manager handles configuration loading and management
type Manager struct {
	mu         sync.RWMutex
	config     *types.Config
	viper      *viper.Viper
	configFile string
	logger     *utils.Logger
}

// NewManager creates a new configuration manager
func NewManager(logger *utils.Logger) *Manager {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Manager{
		viper:  viper.New(),
		logger: logger,
	}
}

// SetConfigFile reads configuration from path instead of searching for config.yaml
func (m *Manager) SetConfigFile(path string) {
	m.configFile = path
}

// Load loads configuration from .env, the config file, and the environment
func (m *Manager) Load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	m.setDefaults()

	if m.configFile != "" {
		m.viper.SetConfigFile(m.configFile)
	} else {
		m.viper.SetConfigName("config")
		m.viper.SetConfigType("yaml")
		m.viper.AddConfigPath("./configs")
		m.viper.AddConfigPath(".")
	}

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// defaults and environment only
	}

	cfg, err := m.decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) decode() (*types.Config, error) {
	cfg := &types.Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyProviderEnv(cfg)
	return cfg, nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	m.viper.SetDefault("server.host", "0.0.0.0")
	m.viper.SetDefault("server.port", 8080)
	m.viper.SetDefault("server.read_timeout", "30s")
	m.viper.SetDefault("server.write_timeout", "150s")
	m.viper.SetDefault("server.idle_timeout", "120s")
	m.viper.SetDefault("server.mode", "release")

	// Redis defaults
	m.viper.SetDefault("redis.enabled", false)
	m.viper.SetDefault("redis.host", "localhost")
	m.viper.SetDefault("redis.port", 6379)
	m.viper.SetDefault("redis.password", "")
	m.viper.SetDefault("redis.database", 0)

	// Logging defaults
	m.viper.SetDefault("logging.level", "info")
	m.viper.SetDefault("logging.format", "json")
	m.viper.SetDefault("logging.output", "stdout")

	// Metrics defaults
	m.viper.SetDefault("metrics.enabled", true)
	m.viper.SetDefault("metrics.path", "/metrics")

	// Rate limit defaults
	m.viper.SetDefault("rate_limit.enabled", true)
	m.viper.SetDefault("rate_limit.requests", 60)
	m.viper.SetDefault("rate_limit.window", "1m")

	// Provider registry defaults
	m.viper.SetDefault("providers.default", providers.DefaultProviderName)
	m.viper.SetDefault("providers.attention_threshold", "1h")
	m.viper.SetDefault("providers.probe_timeout", "30s")
	m.viper.SetDefault("providers.catalog_ttl", "10m")
	m.viper.SetDefault("providers.monitor_interval", "0s")
	m.viper.SetDefault("providers.recovery.max_retries", 0)
	m.viper.SetDefault("providers.recovery.base_delay", "0s")
	m.viper.SetDefault("providers.recovery.max_delay", "30s")
	m.viper.SetDefault("providers.recovery.backoff_factor", 2.0)
}

// applyProviderEnv fills provider entries from the conventional variables.
// A set variable wins over the config file.
func applyProviderEnv(cfg *types.Config) {
	for name, env := range providerEnv {
		key, model := firstEnv(env.keys), firstEnv(env.models)
		if key == "" && model == "" {
			continue
		}
		if cfg.Providers.Entries == nil {
			cfg.Providers.Entries = make(map[string]types.ProviderConfig)
		}
		entry := cfg.Providers.Entries[name]
		if key != "" {
			entry.APIKey = key
		}
		if model != "" {
			entry.Model = model
		}
		cfg.Providers.Entries[name] = entry
	}
}

func firstEnv(names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Get returns the current configuration
func (m *Manager) Get() *types.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ConfigFileUsed returns the path of the loaded config file, if any
func (m *Manager) ConfigFileUsed() string {
	return m.viper.ConfigFileUsed()
}

// Watch reloads the configuration whenever the config file changes. Invalid
// updates are logged and the previous configuration stays in effect.
func (m *Manager) Watch(callback func(*types.Config)) {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.decode()
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			m.logger.WithError(err).WithField("file", e.Name).Error("Ignoring invalid configuration change")
			return
		}

		m.mu.Lock()
		m.config = cfg
		m.mu.Unlock()

		m.logger.WithField("file", e.Name).Info("Configuration reloaded")
		if callback != nil {
			callback(cfg)
		}
	})
	m.viper.WatchConfig()
}

// Validate validates the loaded configuration
func (m *Manager) Validate() error {
	cfg := m.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	return Validate(cfg)
}

// Validate checks cfg for values the service cannot run with
func Validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %q", cfg.Logging.Level)
	}

	if cfg.Redis.Enabled && (cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis port: %d", cfg.Redis.Port)
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit needs positive requests and window")
	}

	if cfg.Providers.Recovery.MaxRetries < 0 {
		return fmt.Errorf("recovery max_retries must not be negative")
	}

	known := make(map[string]bool)
	for _, f := range providers.BuiltinFactories() {
		known[f.Descriptor.Name] = true
	}

	if d := strings.ToLower(cfg.Providers.Default); d != "" && !known[d] {
		return fmt.Errorf("unknown default provider: %q", cfg.Providers.Default)
	}

	for _, name := range sortedNames(cfg.Providers.Entries) {
		if !known[strings.ToLower(name)] {
			return fmt.Errorf("unknown provider in configuration: %q", name)
		}
		entry := cfg.Providers.Entries[name]
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}

	return nil
}

// RegistryOptions maps provider settings onto registry options
func RegistryOptions(cfg *types.Config) []providers.Option {
	policy := cfg.Providers.Recovery
	opts := []providers.Option{providers.WithRecoveryPolicy(&policy)}
	if cfg.Providers.AttentionThreshold > 0 {
		opts = append(opts, providers.WithAttentionThreshold(cfg.Providers.AttentionThreshold))
	}
	if cfg.Providers.ProbeTimeout > 0 {
		opts = append(opts, providers.WithProbeTimeout(cfg.Providers.ProbeTimeout))
	}
	return opts
}

// ApplyProviders pushes provider configuration into reg. Entries equal to
// what reg already holds are skipped so a reload does not clear recorded
// errors of unchanged providers.
func ApplyProviders(reg *providers.Registry, cfg *types.Config, logger *utils.Logger) error {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	var errs []error
	for _, name := range sortedNames(cfg.Providers.Entries) {
		if !reg.IsRegistered(name) {
			errs = append(errs, fmt.Errorf("provider %q is not registered", name))
			continue
		}
		entry := cfg.Providers.Entries[name]
		if current, ok := reg.GetProviderConfig(name); ok && sameConfig(current, entry) {
			continue
		}
		reg.SetProviderConfig(name, entry)
		logger.LogProviderConfig(name, entry)
	}

	if cfg.Providers.Default != "" && cfg.Providers.Default != reg.DefaultProviderName() {
		if err := reg.SetDefaultProvider(cfg.Providers.Default); err != nil {
			errs = append(errs, err)
		} else {
			logger.WithProvider(cfg.Providers.Default).Info("Default provider set")
		}
	}

	return errors.Join(errs...)
}

func sortedNames(entries map[string]types.ProviderConfig) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameConfig(a, b types.ProviderConfig) bool {
	return a.APIKey == b.APIKey &&
		a.Model == b.Model &&
		a.BaseURL == b.BaseURL &&
		(a.MaxTokens == nil) == (b.MaxTokens == nil) &&
		a.MaxTokensValue() == b.MaxTokensValue() &&
		(a.Temperature == nil) == (b.Temperature == nil) &&
		a.TemperatureValue() == b.TemperatureValue()
}
