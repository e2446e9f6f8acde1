package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repo-analyzer/analyzer/internal/middleware"
	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/pkg/retry"
	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"

	apierrors "github.com/repo-analyzer/analyzer/pkg/errors"
)

const (
	// apiKeyHeader lets a caller try a key without storing it
	apiKeyHeader = "X-API-Key"

	sharedCallTimeout = 2 * time.Minute
)

type configRequest struct {
	APIKey      string   `json:"apiKey"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"maxTokens" binding:"omitempty,gt=0"`
	Temperature *float64 `json:"temperature" binding:"omitempty,gte=0,lte=1"`
	BaseURL     string   `json:"baseUrl" binding:"omitempty,url"`
}

func (r *configRequest) toConfig() types.ProviderConfig {
	return types.ProviderConfig{
		APIKey:      strings.TrimSpace(r.APIKey),
		Model:       strings.TrimSpace(r.Model),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		BaseURL:     strings.TrimSpace(r.BaseURL),
	}
}

type defaultProviderRequest struct {
	Name string `json:"name" binding:"required"`
}

type analyzeRequest struct {
	Provider string            `json:"provider"`
	Config   *configRequest    `json:"config"`
	Project  types.ProjectInfo `json:"project" binding:"required"`
}

type providerTestResponse struct {
	Provider     string                   `json:"provider"`
	Working      bool                     `json:"working"`
	Status       types.StatusState        `json:"status"`
	LastTested   *time.Time               `json:"lastTested,omitempty"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	Error        *types.ProviderError     `json:"error,omitempty"`
	HealthCheck  *types.HealthCheckResult `json:"healthCheck,omitempty"`
}

func respondError(c *gin.Context, err *apierrors.APIError) {
	middleware.Abort(c, err)
}

func invalidRequest(c *gin.Context, err error) {
	respondError(c, apierrors.New(apierrors.ErrInvalidRequest, "Invalid request format").WithDetails(err.Error()))
}

// providerName resolves the :name param, answering 404 for unknown providers
func (s *Server) providerName(c *gin.Context) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(c.Param("name")))
	if !s.registry.IsRegistered(name) {
		respondError(c, apierrors.Newf(apierrors.ErrNotFound, "Provider %q not found", name))
		return "", false
	}
	return name, true
}

// registryError maps registry and provider errors onto the API envelope
func registryError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, providers.ErrNotRegistered):
		return apierrors.New(apierrors.ErrNotFound, err.Error())
	case errors.Is(err, providers.ErrInvalidModelID):
		return apierrors.New(apierrors.ErrInvalidModel, "Model id must not be empty")
	case errors.Is(err, providers.ErrModelFetchUnsupported):
		return apierrors.New(apierrors.ErrUnsupported, err.Error())
	}

	perr := retry.CategorizeError(err)
	if perr.Type == types.ErrorConfiguration {
		code := apierrors.ErrInvalidRequest
		if strings.Contains(perr.Message, "API key is required") {
			code = apierrors.ErrMissingAPIKey
		}
		return apierrors.New(code, perr.Message)
	}
	return apierrors.New(apierrors.ErrProviderError, perr.Message).WithDetails(string(perr.Type))
}

// health answers 503 once every registered provider is in error
func (s *Server) health(c *gin.Context) {
	stats := s.registry.Statistics()
	body := gin.H{
		"status":          "ok",
		"timestamp":       time.Now().UTC(),
		"defaultProvider": s.registry.DefaultProviderName(),
		"providers":       stats,
	}
	if stats.Total > 0 && stats.Error == stats.Total {
		unhealthy := apierrors.New(apierrors.ErrServiceUnhealthy, "All providers are failing")
		body["status"] = "unhealthy"
		body["error"] = unhealthy
		c.JSON(unhealthy.HTTPStatusCode, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers":       s.registry.AllProviderInfo(),
		"defaultProvider": s.registry.DefaultProviderName(),
	})
}

func (s *Server) statistics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statistics": s.registry.Statistics()})
}

func (s *Server) attention(c *gin.Context) {
	var exclude []string
	for _, v := range c.QueryArray("exclude") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				exclude = append(exclude, name)
			}
		}
	}

	names := s.registry.ProvidersNeedingAttention(exclude...)
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"providers": names})
}

func (s *Server) setDefaultProvider(c *gin.Context) {
	var req defaultProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := s.registry.SetDefaultProvider(req.Name); err != nil {
		respondError(c, registryError(err))
		return
	}

	s.logger.WithProvider(req.Name).Info("Default provider changed")
	c.JSON(http.StatusOK, gin.H{"defaultProvider": s.registry.DefaultProviderName()})
}

func (s *Server) getProvider(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}
	info, _ := s.registry.ProviderInfo(name)
	st, _ := s.registry.ProviderStatus(name)
	c.JSON(http.StatusOK, gin.H{"provider": info, "status": st})
}

func (s *Server) getProviderConfig(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}
	cfg, _ := s.registry.GetProviderConfig(name)
	cfg.APIKey = utils.MaskAPIKey(cfg.APIKey)
	c.JSON(http.StatusOK, gin.H{"provider": name, "config": cfg})
}

func (s *Server) setProviderConfig(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}

	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	cfg := req.toConfig()
	if err := cfg.Validate(); err != nil {
		invalidRequest(c, err)
		return
	}

	s.registry.SetProviderConfig(name, cfg)
	s.logger.LogProviderConfig(name, cfg)

	info, _ := s.registry.ProviderInfo(name)
	c.JSON(http.StatusOK, gin.H{"provider": info})
}

func (s *Server) testProvider(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}

	start := time.Now()
	v, _, _ := s.tests.Do(name, func() (interface{}, error) {
		ctx, cancel := detached(c.Request.Context(), sharedCallTimeout)
		defer cancel()
		return s.registry.TestProvider(ctx, name), nil
	})
	working := v.(bool)

	st, _ := s.registry.ProviderStatus(name)
	s.logger.LogProviderTest(name, working, time.Since(start), st.Error)

	c.JSON(http.StatusOK, providerTestResponse{
		Provider:     name,
		Working:      working,
		Status:       st.Status,
		LastTested:   st.LastTested,
		ErrorMessage: st.ErrorMessage,
		Error:        st.Error,
		HealthCheck:  st.HealthCheck,
	})
}

func (s *Server) testAllProviders(c *gin.Context) {
	ctx, cancel := detached(c.Request.Context(), sharedCallTimeout)
	defer cancel()

	results := s.registry.TestAllProviders(ctx)
	for name, ok := range results {
		if !ok {
			st, _ := s.registry.ProviderStatus(name)
			s.logger.LogProviderTest(name, false, 0, st.Error)
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) recoverProvider(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}

	st, _ := s.registry.ProviderStatus(name)
	if st.Error == nil {
		respondError(c, apierrors.Newf(apierrors.ErrConflict, "Provider %q has no recorded error", name))
		return
	}

	ctx, cancel := detached(c.Request.Context(), sharedCallTimeout)
	defer cancel()
	recovered := s.registry.AttemptRecovery(ctx, name, st.Error)

	after, _ := s.registry.ProviderStatus(name)
	s.logger.WithProvider(name).
		WithField("error_type", st.Error.Type).
		WithField("recovered", recovered).
		Info("Provider recovery attempted")

	c.JSON(http.StatusOK, gin.H{
		"provider":  name,
		"recovered": recovered,
		"status":    after,
	})
}

func (s *Server) clearProviderError(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}
	s.registry.ClearProviderError(name)
	st, _ := s.registry.ProviderStatus(name)
	c.JSON(http.StatusOK, gin.H{"provider": name, "status": st})
}

// requestAPIKey prefers a caller supplied key over the stored one
func (s *Server) requestAPIKey(c *gin.Context, name string) string {
	if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
		return key
	}
	cfg, _ := s.registry.GetProviderConfig(name)
	return cfg.APIKey
}

func (s *Server) listModels(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}

	apiKey := s.requestAPIKey(c, name)
	if apiKey == "" {
		respondError(c, apierrors.Newf(apierrors.ErrMissingAPIKey, "API key is required to list %s models", name))
		return
	}

	models, err := s.registry.FetchProviderModels(c.Request.Context(), name, apiKey)
	if err != nil {
		if errors.Is(err, providers.ErrModelFetchUnsupported) {
			respondError(c, registryError(err))
			return
		}
		s.logger.WithProvider(name).WithError(err).Error("Failed to fetch models")
		body := gin.H{
			"error":   "Failed to fetch models",
			"message": err.Error(),
		}
		var perr *types.ProviderError
		if errors.As(err, &perr) {
			body["message"] = perr.Message
			body["type"] = perr.Type
			body["recoverable"] = perr.Recoverable
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "models": models})
}

func (s *Server) validateModel(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}
	modelID := c.Param("modelId")

	result, err := s.registry.ValidateProviderModel(c.Request.Context(), name, modelID, s.requestAPIKey(c, name))
	if err != nil {
		s.logger.WithProvider(name).WithError(err).Warn("Model validation failed")
		respondError(c, registryError(err))
		return
	}

	resp := gin.H{
		"provider": name,
		"modelId":  modelID,
		"valid":    result.Valid,
	}
	if result.Model != nil {
		resp["model"] = result.Model
	}
	if result.Error != "" {
		resp["error"] = result.Error
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) modelRecommendations(c *gin.Context) {
	name, ok := s.providerName(c)
	if !ok {
		return
	}
	modelID := c.Param("modelId")

	rec, err := s.registry.ProviderModelRecommendations(name, modelID)
	if err != nil {
		respondError(c, registryError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":        name,
		"modelId":         modelID,
		"recommendations": rec,
	})
}

func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	var override *types.ProviderConfig
	if req.Config != nil {
		cfg := req.Config.toConfig()
		if err := cfg.Validate(); err != nil {
			invalidRequest(c, err)
			return
		}
		override = &cfg
	}

	provider, err := s.registry.CreateProvider(req.Provider, override)
	if err != nil {
		respondError(c, registryError(err))
		return
	}

	prompt := provider.FormatPrompt(req.Project)
	cfg := provider.Config()
	key := utils.HashAPIKey(strings.Join([]string{
		provider.Name(),
		cfg.Model,
		cfg.APIKey,
		cfg.BaseURL,
		strconv.Itoa(cfg.MaxTokensValue()),
		strconv.FormatFloat(cfg.TemperatureValue(), 'g', -1, 64),
		prompt,
	}, "|"))

	start := time.Now()
	v, err, shared := s.analyses.Do(key, func() (interface{}, error) {
		ctx, cancel := detached(c.Request.Context(), sharedCallTimeout)
		defer cancel()
		return provider.Analyze(ctx, prompt)
	})

	entry := s.logger.WithRequestID(middleware.GetRequestIDFromContext(c)).
		WithField("provider", provider.Name()).
		WithField("shared", shared).
		WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Error("Analysis failed")
		respondError(c, registryError(err))
		return
	}
	resp := v.(*types.LLMResponse)
	entry.WithField("tokens", resp.TokenUsage.Total).Info("Analysis completed")

	c.JSON(http.StatusOK, gin.H{
		"provider":   provider.Name(),
		"model":      cfg.Model,
		"content":    resp.Content,
		"tokenUsage": resp.TokenUsage,
	})
}
