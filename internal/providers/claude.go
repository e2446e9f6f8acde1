package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

const (
	claudeBaseURL    = "https://api.anthropic.com/v1"
	claudeAPIVersion = "2023-06-01"
)

// ClaudeDescriptor describes the Anthropic Claude provider
var ClaudeDescriptor = Descriptor{
	Name:           "claude",
	DisplayName:    "Claude",
	DefaultModel:   "claude-3-haiku-20240307",
	RequiresAPIKey: true,
	Capabilities: []types.Capability{
		types.CapabilityTextGeneration,
		types.CapabilityCodeAnalysis,
		types.CapabilityFunctionCalling,
		types.CapabilityImageAnalysis,
	},
}

// ClaudeProvider talks to the Anthropic Messages API
type ClaudeProvider struct {
	baseProvider
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Content    []claudeText `json:"content"`
	Model      string       `json:"model"`
	StopReason *string      `json:"stop_reason"`
	Usage      claudeUsage  `json:"usage"`
}

type claudeText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewClaudeProvider validates cfg and creates a Claude provider
func NewClaudeProvider(cfg types.ProviderConfig) (*ClaudeProvider, error) {
	base, err := newBaseProvider(ClaudeDescriptor, cfg, 60*time.Second)
	if err != nil {
		return nil, err
	}
	return &ClaudeProvider{baseProvider: base}, nil
}

// ClaudeFactory registers Claude with a registry
func ClaudeFactory() Factory {
	return Factory{
		Descriptor: ClaudeDescriptor,
		New: func(cfg types.ProviderConfig) (LLMProvider, error) {
			return NewClaudeProvider(cfg)
		},
	}
}

// Analyze sends prompt as a single user message
func (p *ClaudeProvider) Analyze(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	req := claudeRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokensValue(),
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
		Temperature: p.config.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         p.config.APIKey,
		"anthropic-version": claudeAPIVersion,
	}

	var resp claudeResponse
	if err := p.doJSON(ctx, p.httpClient, http.MethodPost, p.endpoint(claudeBaseURL, "/messages"), headers, req, &resp); err != nil {
		return nil, err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("Claude API error: response contained no text content")
	}

	return &types.LLMResponse{
		Content: strings.TrimSpace(strings.Join(parts, "\n")),
		TokenUsage: types.TokenUsage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
