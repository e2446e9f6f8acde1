// Package providers defines the LLM provider contract, the concrete provider
// adapters and the registry that tracks their configuration and health.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

// LLMProvider is implemented by every provider adapter
type LLMProvider interface {
	// Name returns the stable lower-case identifier
	Name() string

	// Config returns the normalized configuration the instance was built with
	Config() types.ProviderConfig

	Capabilities() []types.Capability

	// FormatPrompt renders repository metadata into an analysis prompt
	FormatPrompt(info types.ProjectInfo) string

	// Analyze performs one completion call
	Analyze(ctx context.Context, prompt string) (*types.LLMResponse, error)
}

// ModelCatalogProvider is implemented by providers that host a browsable model catalog
type ModelCatalogProvider interface {
	FetchModels(ctx context.Context, apiKey string) ([]types.ModelInfo, error)
	ValidateModel(ctx context.Context, modelID, apiKey string) (*types.ModelValidation, error)
	GetModelRecommendations(modelID string) types.ModelRecommendations
}

// Descriptor holds the static facts about a provider type
type Descriptor struct {
	Name           string
	DisplayName    string
	DefaultModel   string
	RequiresAPIKey bool
	Capabilities   []types.Capability
}

// ValidateAndNormalizeConfig checks mandatory fields and fills in defaults.
// The input is never modified.
func (d Descriptor) ValidateAndNormalizeConfig(cfg types.ProviderConfig) (types.ProviderConfig, error) {
	if d.RequiresAPIKey && strings.TrimSpace(cfg.APIKey) == "" {
		return types.ProviderConfig{}, fmt.Errorf("%s API key is required", d.displayName())
	}
	if err := cfg.Validate(); err != nil {
		return types.ProviderConfig{}, fmt.Errorf("%s configuration is invalid: %w", d.displayName(), err)
	}

	out := cfg.Clone()
	if out.Model == "" {
		out.Model = d.DefaultModel
	}
	if out.MaxTokens == nil {
		out.MaxTokens = types.IntPtr(types.DefaultMaxTokens)
	}
	if out.Temperature == nil {
		out.Temperature = types.Float64Ptr(types.DefaultTemperature)
	}
	return out, nil
}

// HasCapability reports whether the descriptor declares c
func (d Descriptor) HasCapability(c types.Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

func (d Descriptor) displayName() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Factory materializes provider instances of one type
type Factory struct {
	Descriptor Descriptor
	New        func(cfg types.ProviderConfig) (LLMProvider, error)
}

// APIError is returned when a provider answers with a non-2xx status
type APIError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s - %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// baseProvider carries the parts every adapter shares
type baseProvider struct {
	descriptor Descriptor
	config     types.ProviderConfig
	httpClient *http.Client
}

func newBaseProvider(d Descriptor, cfg types.ProviderConfig, timeout time.Duration) (baseProvider, error) {
	normalized, err := d.ValidateAndNormalizeConfig(cfg)
	if err != nil {
		return baseProvider{}, err
	}
	return baseProvider{
		descriptor: d,
		config:     normalized,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (b *baseProvider) Name() string {
	return b.descriptor.Name
}

func (b *baseProvider) Config() types.ProviderConfig {
	return b.config.Clone()
}

func (b *baseProvider) Capabilities() []types.Capability {
	return append([]types.Capability(nil), b.descriptor.Capabilities...)
}

func (b *baseProvider) FormatPrompt(info types.ProjectInfo) string {
	return FormatProjectPrompt(info)
}

func (b *baseProvider) endpoint(defaultBaseURL, path string) string {
	base := defaultBaseURL
	if b.config.BaseURL != "" {
		base = b.config.BaseURL
	}
	return strings.TrimRight(base, "/") + path
}

// doJSON sends in (if non-nil) as JSON and decodes a 2xx answer into out.
// Every failure is prefixed with the provider's display name.
func (b *baseProvider) doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, in, out any) error {
	provider := b.descriptor.displayName()

	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s API error: failed to marshal request: %w", provider, err)
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s API error: failed to create request: %w", provider, err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", "repo-analyzer/1.0")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s API error: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s API error: failed to read response: %w", provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s API error: failed to decode response: %w", provider, err)
	}
	return nil
}
