package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/repo-analyzer/analyzer/internal/config"
	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/internal/server"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analyzer HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().Bool("watch", true, "Reload provider configuration when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch, _ := cmd.Flags().GetBool("watch"); watch && a.manager.ConfigFileUsed() != "" {
		a.manager.Watch(func(cfg *types.Config) {
			if err := config.ApplyProviders(a.registry, cfg, a.logger); err != nil {
				a.logger.WithError(err).Warn("Provider configuration partially applied")
			}
		})
	}

	monitor := providers.NewHealthMonitor(a.registry, a.config.Providers.MonitorInterval, a.logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	opts := []server.Option{server.WithRateLimiter(a.limiter)}
	if a.collector != nil {
		opts = append(opts, server.WithMetrics(a.collector, a.gatherer))
	}
	srv := server.New(a.config, a.registry, a.logger, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Server forced to shutdown")
		return err
	}
	a.logger.Info("Server exited")
	return nil
}
