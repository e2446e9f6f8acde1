package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/retry"
	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// DefaultProviderName is the default provider of a registry built by CreateDefault
const DefaultProviderName = "mock"

const (
	defaultAttentionThreshold = time.Hour
	defaultProbeTimeout       = 30 * time.Second
	defaultCatalogTTL         = 10 * time.Minute

	healthCheckPrompt    = "Reply with the single word OK."
	healthCheckMaxTokens = 16
)

var (
	// ErrNotRegistered is returned for names without a factory
	ErrNotRegistered = errors.New("not registered")

	// ErrModelFetchUnsupported is returned by providers without a model catalog
	ErrModelFetchUnsupported = errors.New("does not support model fetching")

	// ErrInvalidModelID is returned for empty or blank model ids
	ErrInvalidModelID = errors.New("model id must not be empty")
)

// Observer receives registry events. Implementations must be safe for concurrent use.
type Observer interface {
	ProviderTested(name string, result types.HealthCheckResult, perr *types.ProviderError)
	StatusChanged(name string, status types.StatusState)
}

// CatalogCache stores fetched model catalogs
type CatalogCache interface {
	GetModels(ctx context.Context, key string) ([]types.ModelInfo, bool)
	SetModels(ctx context.Context, key string, models []types.ModelInfo, ttl time.Duration)
}

// Registry tracks provider factories, configuration and status. Provider
// instances are never cached; CreateProvider builds a fresh one every call.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	order       []string
	configs     map[string]types.ProviderConfig
	statuses    map[string]*types.ProviderStatus
	defaultName string

	initial     []Factory
	initialName string

	logger             *utils.Logger
	now                func() time.Time
	attentionThreshold time.Duration
	probeTimeout       time.Duration
	recoveryPolicy     *types.RetryPolicy
	recovery           *retry.RetryManager
	catalogCache       CatalogCache
	catalogTTL         time.Duration
	observer           Observer
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for debug-level status transitions
func WithLogger(logger *utils.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAttentionThreshold sets how old a test may be before a provider needs attention
func WithAttentionThreshold(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.attentionThreshold = d
		}
	}
}

// WithProbeTimeout bounds a single health probe
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithRecoveryPolicy sets the retry policy used by AttemptRecovery
func WithRecoveryPolicy(policy *types.RetryPolicy) Option {
	return func(r *Registry) {
		r.recoveryPolicy = policy
	}
}

// WithCatalogCache caches fetched model catalogs for ttl
func WithCatalogCache(cache CatalogCache, ttl time.Duration) Option {
	return func(r *Registry) {
		r.catalogCache = cache
		if ttl > 0 {
			r.catalogTTL = ttl
		}
	}
}

// WithObserver reports tests and status changes to o
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:             utils.NewNopLogger(),
		now:                time.Now,
		attentionThreshold: defaultAttentionThreshold,
		probeTimeout:       defaultProbeTimeout,
		catalogTTL:         defaultCatalogTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.recovery = retry.NewRetryManager(r.recoveryPolicy, r.logger)
	r.resetLocked()
	return r
}

// BuiltinFactories returns the factories of the built-in providers
func BuiltinFactories() []Factory {
	return []Factory{ClaudeFactory(), GeminiFactory(), OpenRouterFactory(), MockFactory()}
}

// CreateDefault creates a registry with the built-in providers and mock as default
func CreateDefault(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initial = BuiltinFactories()
	r.initialName = DefaultProviderName
	r.resetLocked()
	return r
}

// Reset restores the registry to the state it was constructed in
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) resetLocked() {
	r.factories = make(map[string]Factory)
	r.order = nil
	r.configs = make(map[string]types.ProviderConfig)
	r.statuses = make(map[string]*types.ProviderStatus)
	r.defaultName = ""
	for _, f := range r.initial {
		r.registerLocked(f.Descriptor.Name, f)
	}
	if r.initialName != "" {
		r.defaultName = r.initialName
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterProvider stores f under the lower-cased name, replacing any previous factory
func (r *Registry) RegisterProvider(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(name, f)
}

func (r *Registry) registerLocked(name string, f Factory) {
	key := normalizeName(name)
	if f.Descriptor.Name == "" {
		f.Descriptor.Name = key
	}
	if _, exists := r.factories[key]; !exists {
		r.order = append(r.order, key)
	}
	r.factories[key] = f
	if r.defaultName == "" {
		r.defaultName = key
	}
}

// IsRegistered reports whether name has a factory
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeName(name)]
	return ok
}

// ProviderNames returns registered names in registration order
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SetDefaultProvider changes the default provider
func (r *Registry) SetDefaultProvider(name string) error {
	key := normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; !ok {
		return fmt.Errorf("provider %q %w", key, ErrNotRegistered)
	}
	r.defaultName = key
	return nil
}

// DefaultProviderName returns the current default provider
func (r *Registry) DefaultProviderName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// SetProviderConfig stores cfg for name and clears any recorded error
func (r *Registry) SetProviderConfig(name string, cfg types.ProviderConfig) {
	key := normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key] = cfg.Clone()
	if st, ok := r.statuses[key]; ok {
		st.Error = nil
		st.ErrorMessage = ""
	}
}

// GetProviderConfig returns the config stored for name
func (r *Registry) GetProviderConfig(name string) (types.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[normalizeName(name)]
	return cfg.Clone(), ok
}

// CreateProvider builds a provider instance from the stored config merged
// with override. An empty name selects the default provider.
func (r *Registry) CreateProvider(name string, override *types.ProviderConfig) (LLMProvider, error) {
	key := normalizeName(name)

	r.mu.RLock()
	if key == "" {
		key = r.defaultName
	}
	f, ok := r.factories[key]
	base := r.configs[key].Clone()
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider %q %w", key, ErrNotRegistered)
	}
	return f.New(base.Merge(override))
}

// ProviderStatus returns a copy of the status of name
func (r *Registry) ProviderStatus(name string) (types.ProviderStatus, bool) {
	key := normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.statuses[key]; ok {
		return st.Clone(), true
	}
	if f, ok := r.factories[key]; ok {
		return initialStatus(f.Descriptor), true
	}
	return types.ProviderStatus{}, false
}

// SetProviderStatus overwrites the status of name
func (r *Registry) SetProviderStatus(name string, status types.ProviderStatus) {
	key := normalizeName(name)
	r.mu.Lock()
	st := status.Clone()
	r.statuses[key] = &st
	r.mu.Unlock()
	r.notifyStatus(key, status.Status)
}

// ClearProviderError marks name inactive and drops its error
func (r *Registry) ClearProviderError(name string) {
	key := normalizeName(name)
	r.mu.Lock()
	st := r.statusLocked(key)
	st.Status = types.StatusInactive
	st.Error = nil
	st.ErrorMessage = ""
	r.mu.Unlock()
	r.notifyStatus(key, types.StatusInactive)
}

func initialStatus(d Descriptor) types.ProviderStatus {
	if d.RequiresAPIKey {
		return types.ProviderStatus{Status: types.StatusInactive}
	}
	return types.ProviderStatus{Status: types.StatusActive}
}

// statusLocked returns the stored status, creating it on first use
func (r *Registry) statusLocked(key string) *types.ProviderStatus {
	if st, ok := r.statuses[key]; ok {
		return st
	}
	st := types.ProviderStatus{Status: types.StatusInactive}
	if f, ok := r.factories[key]; ok {
		st = initialStatus(f.Descriptor)
	}
	r.statuses[key] = &st
	return &st
}

// TestProvider probes name and records the outcome. The status is
// "testing" for the duration of the probe.
func (r *Registry) TestProvider(ctx context.Context, name string) bool {
	key := normalizeName(name)

	r.mu.Lock()
	f, registered := r.factories[key]
	cfg := r.configs[key].Clone()
	st := r.statusLocked(key)
	st.Status = types.StatusTesting
	r.mu.Unlock()
	r.notifyStatus(key, types.StatusTesting)

	if !registered {
		r.recordConfigurationError(key, fmt.Sprintf("Provider '%s' is not registered", key))
		return false
	}
	if f.Descriptor.RequiresAPIKey && !cfg.IsConfigured() {
		r.recordConfigurationError(key, fmt.Sprintf("%s API key is required", f.Descriptor.displayName()))
		return false
	}

	provider, err := f.New(cfg.Merge(&types.ProviderConfig{MaxTokens: types.IntPtr(healthCheckMaxTokens)}))
	if err != nil {
		r.recordProbe(key, f.Descriptor, 0, err)
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err = provider.Analyze(probeCtx, healthCheckPrompt)
	r.recordProbe(key, f.Descriptor, time.Since(start), err)
	return err == nil
}

func (r *Registry) recordConfigurationError(key, message string) {
	perr := retry.NewConfigurationError(message, r.now())

	r.mu.Lock()
	st := r.statusLocked(key)
	st.Status = types.StatusError
	st.Error = perr
	st.ErrorMessage = perr.Message
	r.mu.Unlock()

	r.logger.WithProvider(key).WithField("error_type", perr.Type).Debug("Provider status -> error")
	r.notifyStatus(key, types.StatusError)
	if r.observer != nil {
		r.observer.ProviderTested(key, types.HealthCheckResult{Healthy: false, TestedAt: perr.Timestamp, Error: message}, perr)
	}
}

func (r *Registry) recordProbe(key string, d Descriptor, elapsed time.Duration, probeErr error) {
	now := r.now()
	result := types.HealthCheckResult{
		Healthy:      probeErr == nil,
		ResponseTime: elapsed.Milliseconds(),
		TestedAt:     now,
		Capabilities: append([]types.Capability(nil), d.Capabilities...),
	}

	var perr *types.ProviderError
	state := types.StatusActive
	if probeErr != nil {
		perr = retry.CategorizeErrorAt(probeErr, now)
		result.Error = perr.Message
		state = types.StatusError
	}

	r.mu.Lock()
	st := r.statusLocked(key)
	st.Status = state
	st.Error = perr
	st.ErrorMessage = ""
	if perr != nil {
		st.ErrorMessage = perr.Message
	}
	st.LastTested = &now
	st.HealthCheck = &result
	r.mu.Unlock()

	r.logger.WithProvider(key).WithField("healthy", result.Healthy).Debugf("Provider status -> %s", state)
	r.notifyStatus(key, state)
	if r.observer != nil {
		r.observer.ProviderTested(key, result, perr)
	}
}

func (r *Registry) notifyStatus(key string, state types.StatusState) {
	if r.observer != nil {
		r.observer.StatusChanged(key, state)
	}
}

// TestAllProviders tests every registered provider concurrently
func (r *Registry) TestAllProviders(ctx context.Context) map[string]bool {
	names := r.ProviderNames()
	results := make(map[string]bool, len(names))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ok := r.TestProvider(ctx, name)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return results
}

// AttemptRecovery re-tests name when perr is recoverable. Backoff and
// extra attempts follow the recovery policy; by default it is one
// immediate re-test.
func (r *Registry) AttemptRecovery(ctx context.Context, name string, perr *types.ProviderError) bool {
	if perr == nil || !perr.Recoverable {
		return false
	}

	err := r.recovery.ExecuteWithRetry(ctx, func(ctx context.Context, attempt int) error {
		if r.TestProvider(ctx, name) {
			return nil
		}
		if st, ok := r.ProviderStatus(name); ok && st.Error != nil {
			return st.Error
		}
		return fmt.Errorf("provider %q test failed", name)
	})
	return err == nil
}

// RecoveryStats reports AttemptRecovery retry statistics
func (r *Registry) RecoveryStats() *retry.RetryStats {
	return r.recovery.GetRetryStats()
}

// Testable reports whether name is registered and has the config a probe needs
func (r *Registry) Testable(name string) bool {
	key := normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key]
	if !ok {
		return false
	}
	return !f.Descriptor.RequiresAPIKey || r.configs[key].IsConfigured()
}

// ProviderInfo returns the external projection of name
func (r *Registry) ProviderInfo(name string) (types.ProviderInfo, bool) {
	key := normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.factories[key]; !ok {
		return types.ProviderInfo{}, false
	}
	return r.infoLocked(key), true
}

// AllProviderInfo returns the projection of every registered provider
func (r *Registry) AllProviderInfo() []types.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]types.ProviderInfo, 0, len(r.order))
	for _, key := range r.order {
		infos = append(infos, r.infoLocked(key))
	}
	return infos
}

func (r *Registry) infoLocked(key string) types.ProviderInfo {
	f := r.factories[key]
	cfg := r.configs[key]

	st := initialStatus(f.Descriptor)
	if stored, ok := r.statuses[key]; ok {
		st = stored.Clone()
	}

	caps := append([]types.Capability(nil), f.Descriptor.Capabilities...)
	if len(caps) == 0 {
		caps = []types.Capability{types.CapabilityTextGeneration}
	}

	model := cfg.Model
	if model == "" {
		model = f.Descriptor.DefaultModel
	}

	return types.ProviderInfo{
		ID:           key,
		Name:         f.Descriptor.displayName(),
		Available:    true,
		Configured:   cfg.IsConfigured(),
		Capabilities: caps,
		Status:       st.Status,
		Model:        model,
		LastTested:   st.LastTested,
		ErrorMessage: st.ErrorMessage,
	}
}

// ProvidersNeedingAttention returns providers never tested or tested longer
// ago than the attention threshold, minus the excluded names.
func (r *Registry) ProvidersNeedingAttention(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[normalizeName(name)] = true
	}

	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, key := range r.order {
		if skip[key] {
			continue
		}
		st, ok := r.statuses[key]
		if !ok || st.LastTested == nil || now.Sub(*st.LastTested) > r.attentionThreshold {
			names = append(names, key)
		}
	}
	return names
}

// Statistics aggregates counts over registered providers
func (r *Registry) Statistics() types.ProviderStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats types.ProviderStatistics
	for _, key := range r.order {
		info := r.infoLocked(key)
		stats.Total++
		if info.Configured {
			stats.Configured++
		}
		switch info.Status {
		case types.StatusActive:
			stats.Active++
		case types.StatusError:
			stats.Error++
		case types.StatusTesting:
			stats.Testing++
		default:
			stats.Inactive++
		}
	}
	return stats
}

// catalogFor builds name's provider and returns it as a catalog provider
func (r *Registry) catalogFor(name, apiKey string) (ModelCatalogProvider, LLMProvider, error) {
	key := normalizeName(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("provider %q %w", key, ErrNotRegistered)
	}

	provider, err := r.CreateProvider(key, &types.ProviderConfig{APIKey: apiKey})
	if err != nil {
		if !f.Descriptor.HasCapability(types.CapabilityModelSelection) {
			return nil, nil, fmt.Errorf("provider %q %w", key, ErrModelFetchUnsupported)
		}
		return nil, nil, err
	}

	catalog, ok := provider.(ModelCatalogProvider)
	if !ok {
		return nil, provider, fmt.Errorf("provider %q %w", key, ErrModelFetchUnsupported)
	}
	return catalog, provider, nil
}

// FetchProviderModels lists name's hosted models. An empty apiKey uses the
// stored one. A failing catalog call is recorded on the provider's status
// and returned as a *types.ProviderError.
func (r *Registry) FetchProviderModels(ctx context.Context, name, apiKey string) ([]types.ModelInfo, error) {
	catalog, provider, err := r.catalogFor(name, apiKey)
	if err != nil {
		return nil, err
	}

	cfg := provider.Config()
	cacheKey := provider.Name() + ":" + utils.HashAPIKey(cfg.APIKey+"|"+cfg.BaseURL)
	if r.catalogCache != nil {
		if models, ok := r.catalogCache.GetModels(ctx, cacheKey); ok {
			return models, nil
		}
	}

	models, err := catalog.FetchModels(ctx, cfg.APIKey)
	if err != nil {
		return nil, r.recordCatalogError(provider.Name(), err)
	}
	if r.catalogCache != nil {
		r.catalogCache.SetModels(ctx, cacheKey, models, r.catalogTTL)
	}
	return models, nil
}

func (r *Registry) recordCatalogError(key string, catalogErr error) *types.ProviderError {
	perr := retry.CategorizeErrorAt(catalogErr, r.now())

	r.mu.Lock()
	st := r.statusLocked(key)
	st.Status = types.StatusError
	st.Error = perr
	st.ErrorMessage = perr.Message
	r.mu.Unlock()

	r.logger.WithProvider(key).WithField("kind", perr.Type).Debug("Provider status -> error (model catalog)")
	r.notifyStatus(key, types.StatusError)
	return perr
}

// ValidateProviderModel checks modelID against name's catalog, served from
// the catalog cache when possible. Providers without a catalog accept any
// non-blank id.
func (r *Registry) ValidateProviderModel(ctx context.Context, name, modelID, apiKey string) (*types.ModelValidation, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, ErrInvalidModelID
	}

	models, err := r.FetchProviderModels(ctx, name, apiKey)
	switch {
	case errors.Is(err, ErrModelFetchUnsupported):
		return &types.ModelValidation{Valid: true}, nil
	case err != nil:
		return nil, err
	}

	r.mu.RLock()
	display := r.factories[normalizeName(name)].Descriptor.displayName()
	r.mu.RUnlock()
	return matchModel(models, modelID, display), nil
}

// ProviderModelRecommendations returns suggested settings for modelID.
// Providers without a catalog get the static defaults.
func (r *Registry) ProviderModelRecommendations(name, modelID string) (types.ModelRecommendations, error) {
	catalog, _, err := r.catalogFor(name, "")
	switch {
	case errors.Is(err, ErrNotRegistered):
		return types.ModelRecommendations{}, err
	case err != nil:
		return types.DefaultModelRecommendations(), nil
	}
	return catalog.GetModelRecommendations(modelID), nil
}
