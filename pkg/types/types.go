// Package types defines core types shared by the repository analyzer
package types

import (
	"fmt"
	"time"
)

// Default generation settings applied when a provider config omits them
const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
)

// Capability is a feature tag a provider declares
type Capability string

const (
	CapabilityTextGeneration  Capability = "text-generation"
	CapabilityCodeAnalysis    Capability = "code-analysis"
	CapabilityFunctionCalling Capability = "function-calling"
	CapabilityImageAnalysis   Capability = "image-analysis"
	CapabilityModelSelection  Capability = "model-selection"
)

// ProviderConfig holds per-provider settings. Pointer fields are optional;
// nil means "use the provider default".
type ProviderConfig struct {
	APIKey      string   `json:"apiKey,omitempty" mapstructure:"api_key"`
	Model       string   `json:"model,omitempty" mapstructure:"model"`
	MaxTokens   *int     `json:"maxTokens,omitempty" mapstructure:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	BaseURL     string   `json:"baseUrl,omitempty" mapstructure:"base_url"`
}

// IsConfigured reports whether an API key is present
func (c ProviderConfig) IsConfigured() bool {
	return c.APIKey != ""
}

// Merge returns a copy of c with every field set in override taking precedence
func (c ProviderConfig) Merge(override *ProviderConfig) ProviderConfig {
	merged := c.Clone()
	if override == nil {
		return merged
	}
	if override.APIKey != "" {
		merged.APIKey = override.APIKey
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = IntPtr(*override.MaxTokens)
	}
	if override.Temperature != nil {
		merged.Temperature = Float64Ptr(*override.Temperature)
	}
	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	return merged
}

// Clone returns a deep copy so callers never share pointer fields
func (c ProviderConfig) Clone() ProviderConfig {
	out := c
	if c.MaxTokens != nil {
		out.MaxTokens = IntPtr(*c.MaxTokens)
	}
	if c.Temperature != nil {
		out.Temperature = Float64Ptr(*c.Temperature)
	}
	return out
}

// MaxTokensValue returns MaxTokens or the default
func (c ProviderConfig) MaxTokensValue() int {
	if c.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *c.MaxTokens
}

// TemperatureValue returns Temperature or the default
func (c ProviderConfig) TemperatureValue() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// Validate checks value ranges. It does not require an API key.
func (c ProviderConfig) Validate() error {
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		return fmt.Errorf("maxTokens must be positive, got %d", *c.MaxTokens)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %g", *c.Temperature)
	}
	return nil
}

// StatusState is the per-provider state machine value
type StatusState string

const (
	StatusInactive StatusState = "inactive"
	StatusTesting  StatusState = "testing"
	StatusActive   StatusState = "active"
	StatusError    StatusState = "error"
)

// ErrorKind classifies provider failures
type ErrorKind string

const (
	ErrorAuthentication ErrorKind = "AUTHENTICATION"
	ErrorRateLimit      ErrorKind = "RATE_LIMIT"
	ErrorNetwork        ErrorKind = "NETWORK_ERROR"
	ErrorConfiguration  ErrorKind = "CONFIGURATION_ERROR"
	ErrorUnknown        ErrorKind = "UNKNOWN"
)

// ProviderError is a categorized provider failure
type ProviderError struct {
	Type        ErrorKind `json:"type"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HealthCheckResult is the outcome of a single provider probe
type HealthCheckResult struct {
	Healthy      bool         `json:"healthy"`
	ResponseTime int64        `json:"responseTime"`
	TestedAt     time.Time    `json:"testedAt"`
	Capabilities []Capability `json:"capabilities"`
	Error        string       `json:"error,omitempty"`
}

// ProviderStatus is the mutable status record of one provider
type ProviderStatus struct {
	Status       StatusState        `json:"status"`
	Error        *ProviderError     `json:"error,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	LastTested   *time.Time         `json:"lastTested,omitempty"`
	HealthCheck  *HealthCheckResult `json:"healthCheck,omitempty"`
}

// Clone returns a copy that shares no pointers with s
func (s ProviderStatus) Clone() ProviderStatus {
	out := s
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.LastTested != nil {
		t := *s.LastTested
		out.LastTested = &t
	}
	if s.HealthCheck != nil {
		h := *s.HealthCheck
		h.Capabilities = append([]Capability(nil), s.HealthCheck.Capabilities...)
		out.HealthCheck = &h
	}
	return out
}

// ProviderInfo is the read-only projection of a registered provider
type ProviderInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Available    bool         `json:"available"`
	Configured   bool         `json:"configured"`
	Capabilities []Capability `json:"capabilities"`
	Status       StatusState  `json:"status"`
	Model        string       `json:"model"`
	LastTested   *time.Time   `json:"lastTested,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// HasCapability reports whether the provider declares c
func (i ProviderInfo) HasCapability(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ProviderStatistics aggregates registry state
type ProviderStatistics struct {
	Total      int `json:"total"`
	Configured int `json:"configured"`
	Active     int `json:"active"`
	Error      int `json:"error"`
	Inactive   int `json:"inactive"`
	Testing    int `json:"testing"`
}

// TokenUsage reports token counts for one completion
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// LLMResponse is the result of a successful analyze call
type LLMResponse struct {
	Content    string     `json:"content"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// ProjectInfo is the repository metadata rendered into analysis prompts
type ProjectInfo struct {
	Name            string   `json:"name" binding:"required"`
	Path            string   `json:"path,omitempty"`
	Language        string   `json:"language,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	FileCount       int      `json:"fileCount,omitempty"`
	TotalLines      int      `json:"totalLines,omitempty"`
	Description     string   `json:"description,omitempty"`
	Readme          string   `json:"readme,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	DevDependencies []string `json:"devDependencies,omitempty"`
	KeyFiles        []string `json:"keyFiles,omitempty"`
}

// ModelPricing is the per-token price of a hosted model, as reported by the catalog
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelInfo describes one entry of a hosted model catalog
type ModelInfo struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	ContextLength       int          `json:"contextLength,omitempty"`
	MaxCompletionTokens int          `json:"maxCompletionTokens,omitempty"`
	Pricing             ModelPricing `json:"pricing"`
	Popular             bool         `json:"popular"`
}

// ModelValidation is the result of validating a model id
type ModelValidation struct {
	Valid bool       `json:"valid"`
	Model *ModelInfo `json:"model,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ModelRecommendations are suggested generation settings for a model
type ModelRecommendations struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	Notes       string  `json:"notes,omitempty"`
}

// DefaultModelRecommendations returns the settings used when nothing better is known
func DefaultModelRecommendations() ModelRecommendations {
	return ModelRecommendations{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 { return &v }
