// Package server exposes the provider registry over HTTP
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/repo-analyzer/analyzer/internal/metrics"
	"github.com/repo-analyzer/analyzer/internal/middleware"
	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// Server is the analyzer HTTP API
type Server struct {
	config   *types.Config
	registry *providers.Registry
	logger   *utils.Logger
	engine   *gin.Engine
	server   *http.Server

	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	limiter   middleware.Limiter

	// concurrent requests for the same work share one in-flight call
	tests    singleflight.Group
	analyses singleflight.Group
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records request metrics on collector and serves gatherer on
// the metrics path
func WithMetrics(collector *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.collector = collector
		s.gatherer = gatherer
	}
}

// WithRateLimiter enables per-client rate limiting with limiter
func WithRateLimiter(limiter middleware.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// New builds the API server around registry
func New(cfg *types.Config, registry *providers.Registry, logger *utils.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// model ids carry "/" and are sent URL-encoded
	engine.UseRawPath = true
	engine.UnescapePathValues = true

	s := &Server{
		config:   cfg,
		registry: registry,
		logger:   logger,
		engine:   engine,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	var observer middleware.RequestObserver
	if s.collector != nil {
		observer = s.collector
	}

	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.CORS())
	s.engine.Use(middleware.Logger(s.logger, observer))
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)

	if s.config.Metrics.Enabled && s.gatherer != nil {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	if s.limiter != nil && s.config.RateLimit.Enabled {
		api.Use(middleware.RateLimit(s.limiter, s.config.RateLimit.Requests, s.config.RateLimit.Window, s.logger))
	}

	p := api.Group("/providers")
	{
		p.GET("", s.listProviders)
		p.GET("/statistics", s.statistics)
		p.GET("/attention", s.attention)
		p.PUT("/default", s.setDefaultProvider)
		p.POST("/test-all", s.testAllProviders)

		p.GET("/:name", s.getProvider)
		p.GET("/:name/config", s.getProviderConfig)
		p.PUT("/:name/config", s.setProviderConfig)
		p.POST("/:name/test", s.testProvider)
		p.POST("/:name/recover", s.recoverProvider)
		p.DELETE("/:name/error", s.clearProviderError)

		p.GET("/:name/models", s.listModels)
		p.POST("/:name/models/:modelId/validate", s.validateModel)
		p.GET("/:name/models/:modelId/recommendations", s.modelRecommendations)
	}

	api.POST("/analyze", s.analyze)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting analyzer API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down analyzer API server")
	return s.server.Shutdown(ctx)
}

// detached keeps a shared in-flight call alive when the request that
// started it goes away
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
