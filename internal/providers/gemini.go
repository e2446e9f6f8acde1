package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/cost"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiDescriptor describes the Google Gemini provider
var GeminiDescriptor = Descriptor{
	Name:           "gemini",
	DisplayName:    "Gemini",
	DefaultModel:   "gemini-1.5-flash",
	RequiresAPIKey: true,
	Capabilities: []types.Capability{
		types.CapabilityTextGeneration,
		types.CapabilityCodeAnalysis,
		types.CapabilityImageAnalysis,
	},
}

// GeminiProvider talks to the Gemini generateContent API
type GeminiProvider struct {
	baseProvider
	estimator *cost.TokenEstimator
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// NewGeminiProvider validates cfg and creates a Gemini provider
func NewGeminiProvider(cfg types.ProviderConfig) (*GeminiProvider, error) {
	base, err := newBaseProvider(GeminiDescriptor, cfg, 60*time.Second)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{baseProvider: base, estimator: cost.NewTokenEstimator()}, nil
}

// GeminiFactory registers Gemini with a registry
func GeminiFactory() Factory {
	return Factory{
		Descriptor: GeminiDescriptor,
		New: func(cfg types.ProviderConfig) (LLMProvider, error) {
			return NewGeminiProvider(cfg)
		},
	}
}

// Analyze sends prompt as a single user turn
func (p *GeminiProvider) Analyze(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: p.config.MaxTokensValue(),
			Temperature:     p.config.Temperature,
		},
	}
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(p.config.Model))
	// The key travels in a header so it never shows up in transport error messages.
	headers := map[string]string{"x-goog-api-key": p.config.APIKey}

	var resp geminiResponse
	if err := p.doJSON(ctx, p.httpClient, http.MethodPost, p.endpoint(geminiBaseURL, path), headers, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("Gemini API error: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("Gemini API error: no candidates returned")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("Gemini API error: candidate contained no text (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	content := strings.TrimSpace(strings.Join(parts, ""))

	usage := p.estimator.EstimateUsage(prompt, content, p.Name())
	if m := resp.UsageMetadata; m != nil && m.TotalTokenCount > 0 {
		usage = types.TokenUsage{
			Prompt:     m.PromptTokenCount,
			Completion: m.CandidatesTokenCount,
			Total:      m.TotalTokenCount,
		}
	}

	return &types.LLMResponse{Content: content, TokenUsage: usage}, nil
}
