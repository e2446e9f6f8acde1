package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/repo-analyzer/analyzer/internal/config"
	"github.com/repo-analyzer/analyzer/internal/metrics"
	"github.com/repo-analyzer/analyzer/internal/middleware"
	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/internal/storage"
	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// app holds the components shared by every subcommand
type app struct {
	manager  *config.Manager
	config   *types.Config
	logger   *utils.Logger
	registry *providers.Registry

	redis     *storage.RedisClient
	limiter   middleware.Limiter
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
}

// loadApp reads configuration and builds the registry with its backing stores
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")

	manager := config.NewManager(nil)
	if path != "" {
		manager.SetConfigFile(path)
	}
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := manager.Get()
	logger := utils.NewLogger(&cfg.Logging)
	if used := manager.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Info("Configuration loaded")
	}

	a := &app{
		manager: manager,
		config:  cfg,
		logger:  logger,
	}

	var cache providers.CatalogCache
	if cfg.Redis.Enabled {
		rc, err := storage.NewRedisClient(commandContext(cmd), &cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.redis = rc
		cache = storage.NewRedisCatalogCache(rc)
		a.limiter = storage.NewRateLimiter(rc)
	} else {
		cache = storage.NewMemoryCatalogCache()
		a.limiter = storage.NewMemoryRateLimiter()
	}

	opts := append(config.RegistryOptions(cfg),
		providers.WithLogger(logger),
		providers.WithCatalogCache(cache, cfg.Providers.CatalogTTL),
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		a.collector = metrics.NewCollector(reg)
		a.gatherer = reg
		opts = append(opts, providers.WithObserver(a.collector))
	}

	a.registry = providers.CreateDefault(opts...)
	if err := config.ApplyProviders(a.registry, cfg, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to apply provider configuration: %w", err)
	}

	return a, nil
}

// Close releases external connections
func (a *app) Close() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close Redis connection")
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
