package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/cost"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

const (
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
	openRouterTimeout      = 60 * time.Second
	openRouterModelTimeout = 10 * time.Second
	openRouterReferer      = "https://github.com/repo-analyzer/analyzer"
	openRouterTitle        = "Repository Analyzer"
)

// OpenRouterDescriptor describes the OpenRouter provider
var OpenRouterDescriptor = Descriptor{
	Name:           "openrouter",
	DisplayName:    "OpenRouter",
	DefaultModel:   "anthropic/claude-3-haiku",
	RequiresAPIKey: true,
	Capabilities: []types.Capability{
		types.CapabilityTextGeneration,
		types.CapabilityCodeAnalysis,
		types.CapabilityFunctionCalling,
		types.CapabilityModelSelection,
	},
}

// popularModels sort ahead of everything else in the catalog, in this order
var popularModels = []string{
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-3-haiku",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"google/gemini-pro-1.5",
	"google/gemini-flash-1.5",
	"meta-llama/llama-3.1-70b-instruct",
	"mistralai/mistral-large",
}

// recommendationRule matches model ids by substring; first match wins
type recommendationRule struct {
	markers []string
	rec     types.ModelRecommendations
}

var recommendationRules = []recommendationRule{
	{
		markers: []string{"coder", "codestral", "code-"},
		rec:     types.ModelRecommendations{MaxTokens: 4000, Temperature: 0.2, Notes: "Code-tuned model, low temperature keeps analysis precise"},
	},
	{
		markers: []string{"/o1", "/o3", "-r1", "reasoning", "thinking"},
		rec:     types.ModelRecommendations{MaxTokens: 8000, Temperature: 1.0, Notes: "Reasoning model, leave room for hidden reasoning tokens"},
	},
	{
		markers: []string{"mini", "haiku", "flash", "-8b", "-7b"},
		rec:     types.ModelRecommendations{MaxTokens: 2000, Temperature: 0.7, Notes: "Small fast model, keep responses short"},
	},
	{
		markers: []string{"opus", "sonnet", "gpt-4", "gemini-pro", "large", "-70b", "-405b"},
		rec:     types.ModelRecommendations{MaxTokens: 4000, Temperature: 0.5, Notes: "Large model, moderate temperature balances detail and focus"},
	},
}

// OpenRouterProvider talks to the OpenAI-compatible OpenRouter API and
// exposes its hosted model catalog.
type OpenRouterProvider struct {
	baseProvider
	catalogClient *http.Client
	estimator     *cost.TokenEstimator
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterChoice struct {
	Index        int               `json:"index"`
	Message      openRouterMessage `json:"message"`
	FinishReason *string           `json:"finish_reason"`
}

type openRouterModelList struct {
	Data []openRouterModel `json:"data"`
}

type openRouterModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	TopProvider *struct {
		MaxCompletionTokens int `json:"max_completion_tokens"`
	} `json:"top_provider,omitempty"`
}

// NewOpenRouterProvider validates cfg and creates an OpenRouter provider
func NewOpenRouterProvider(cfg types.ProviderConfig) (*OpenRouterProvider, error) {
	base, err := newBaseProvider(OpenRouterDescriptor, cfg, openRouterTimeout)
	if err != nil {
		return nil, err
	}
	return &OpenRouterProvider{
		baseProvider:  base,
		catalogClient: &http.Client{Timeout: openRouterModelTimeout},
		estimator:     cost.NewTokenEstimator(),
	}, nil
}

// OpenRouterFactory registers OpenRouter with a registry
func OpenRouterFactory() Factory {
	return Factory{
		Descriptor: OpenRouterDescriptor,
		New: func(cfg types.ProviderConfig) (LLMProvider, error) {
			return NewOpenRouterProvider(cfg)
		},
	}
}

func (p *OpenRouterProvider) headers(apiKey string) map[string]string {
	h := map[string]string{
		"HTTP-Referer": openRouterReferer,
		"X-Title":      openRouterTitle,
	}
	if apiKey != "" {
		h["Authorization"] = "Bearer " + apiKey
	}
	return h
}

// Analyze sends prompt to the chat completions endpoint
func (p *OpenRouterProvider) Analyze(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	req := openRouterRequest{
		Model:       p.config.Model,
		Messages:    []openRouterMessage{{Role: "user", Content: prompt}},
		MaxTokens:   p.config.MaxTokensValue(),
		Temperature: p.config.Temperature,
	}

	var resp openRouterResponse
	if err := p.doJSON(ctx, p.httpClient, http.MethodPost, p.endpoint(openRouterBaseURL, "/chat/completions"), p.headers(p.config.APIKey), req, &resp); err != nil {
		return nil, err
	}

	// OpenRouter reports some upstream failures inside a 200 body
	if resp.Error != nil {
		return nil, fmt.Errorf("OpenRouter API error: %v - %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenRouter API error: no choices returned")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	usage := p.estimator.EstimateUsage(prompt, content, p.Name())
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		usage = types.TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		}
	}

	return &types.LLMResponse{Content: content, TokenUsage: usage}, nil
}

// FetchModels lists the hosted catalog. Entries without id or name are
// dropped; popular models come first, the rest by display name.
func (p *OpenRouterProvider) FetchModels(ctx context.Context, apiKey string) ([]types.ModelInfo, error) {
	if apiKey == "" {
		apiKey = p.config.APIKey
	}

	var list openRouterModelList
	if err := p.doJSON(ctx, p.catalogClient, http.MethodGet, p.endpoint(openRouterBaseURL, "/models"), p.headers(apiKey), nil, &list); err != nil {
		return nil, err
	}

	models := make([]types.ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Name) == "" {
			continue
		}
		info := types.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
			Pricing: types.ModelPricing{
				Prompt:     m.Pricing.Prompt,
				Completion: m.Pricing.Completion,
			},
			Popular: popularRank(m.ID) >= 0,
		}
		if m.TopProvider != nil {
			info.MaxCompletionTokens = m.TopProvider.MaxCompletionTokens
		}
		models = append(models, info)
	}

	SortModels(models)
	return models, nil
}

// ValidateModel checks that modelID exists in the catalog
func (p *OpenRouterProvider) ValidateModel(ctx context.Context, modelID, apiKey string) (*types.ModelValidation, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, ErrInvalidModelID
	}

	models, err := p.FetchModels(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return matchModel(models, modelID, OpenRouterDescriptor.displayName()), nil
}

// matchModel looks modelID up in a fetched catalog
func matchModel(models []types.ModelInfo, modelID, providerName string) *types.ModelValidation {
	for i := range models {
		if models[i].ID == modelID {
			m := models[i]
			return &types.ModelValidation{Valid: true, Model: &m}
		}
	}
	return &types.ModelValidation{
		Valid: false,
		Error: fmt.Sprintf("model %q is not available on %s", modelID, providerName),
	}
}

// GetModelRecommendations suggests generation settings from the model id
func (p *OpenRouterProvider) GetModelRecommendations(modelID string) types.ModelRecommendations {
	return RecommendOpenRouterSettings(modelID)
}

// RecommendOpenRouterSettings maps a model id to suggested settings
func RecommendOpenRouterSettings(modelID string) types.ModelRecommendations {
	id := strings.ToLower(modelID)
	for _, rule := range recommendationRules {
		for _, marker := range rule.markers {
			if strings.Contains(id, marker) {
				return rule.rec
			}
		}
	}
	return types.DefaultModelRecommendations()
}

// SortModels orders popular models first, then alphabetically by name
func SortModels(models []types.ModelInfo) {
	sort.SliceStable(models, func(i, j int) bool {
		ri, rj := popularRank(models[i].ID), popularRank(models[j].ID)
		switch {
		case ri >= 0 && rj >= 0:
			return ri < rj
		case ri >= 0:
			return true
		case rj >= 0:
			return false
		}
		ni, nj := strings.ToLower(models[i].Name), strings.ToLower(models[j].Name)
		if ni != nj {
			return ni < nj
		}
		return models[i].ID < models[j].ID
	})
}

func popularRank(id string) int {
	for i, popular := range popularModels {
		if popular == id {
			return i
		}
	}
	return -1
}
