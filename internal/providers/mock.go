package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/cost"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

const defaultMockFailure = "simulated failure"

// MockDescriptor describes the network-free mock provider
var MockDescriptor = Descriptor{
	Name:           "mock",
	DisplayName:    "Mock",
	DefaultModel:   "mock-model",
	RequiresAPIKey: false,
	Capabilities: []types.Capability{
		types.CapabilityTextGeneration,
		types.CapabilityCodeAnalysis,
	},
}

// MockProvider answers locally. Its setters let tests simulate latency and failure.
type MockProvider struct {
	baseProvider
	estimator *cost.TokenEstimator

	mu          sync.RWMutex
	response    string
	tokenUsage  *types.TokenUsage
	shouldFail  bool
	failMessage string
	delay       time.Duration
	calls       int
}

// NewMockProvider creates a mock provider; it never requires an API key
func NewMockProvider(cfg types.ProviderConfig) (*MockProvider, error) {
	base, err := newBaseProvider(MockDescriptor, cfg, 0)
	if err != nil {
		return nil, err
	}
	return &MockProvider{
		baseProvider: base,
		estimator:    cost.NewTokenEstimator(),
		failMessage:  defaultMockFailure,
	}, nil
}

// MockFactory registers the mock provider with a registry
func MockFactory() Factory {
	return Factory{
		Descriptor: MockDescriptor,
		New: func(cfg types.ProviderConfig) (LLMProvider, error) {
			return NewMockProvider(cfg)
		},
	}
}

// SetMockResponse fixes the content returned by Analyze
func (p *MockProvider) SetMockResponse(response string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = response
}

// SetMockTokenUsage fixes the reported token usage
func (p *MockProvider) SetMockTokenUsage(usage types.TokenUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenUsage = &usage
}

// SetShouldFail makes Analyze fail
func (p *MockProvider) SetShouldFail(shouldFail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = shouldFail
}

// SetFailureMessage sets the message of simulated failures
func (p *MockProvider) SetFailureMessage(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failMessage = message
}

// SetDelay adds latency to every Analyze call
func (p *MockProvider) SetDelay(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = delay
}

// Calls returns how many times Analyze ran
func (p *MockProvider) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

// Analyze returns the configured response after the configured delay
func (p *MockProvider) Analyze(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	delay, shouldFail, failMessage := p.delay, p.shouldFail, p.failMessage
	response, usage := p.response, p.tokenUsage
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("Mock API error: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if shouldFail {
		return nil, fmt.Errorf("Mock API error: %s", failMessage)
	}

	if response == "" {
		response = mockAnalysis(prompt)
	}
	content := strings.TrimSpace(response)

	result := &types.LLMResponse{Content: content}
	if usage != nil {
		result.TokenUsage = *usage
	} else {
		result.TokenUsage = p.estimator.EstimateUsage(prompt, content, p.Name())
	}
	return result, nil
}

func mockAnalysis(prompt string) string {
	project := "the project"
	for _, line := range strings.Split(prompt, "\n") {
		if name, ok := strings.CutPrefix(line, "Project: "); ok {
			project = name
			break
		}
	}
	return fmt.Sprintf(`1. %s is a software repository analyzed without a live model.
2. Technologies and architecture are reported by the real providers once configured.
3. The mock provider is active and responding.
4. Configure Claude, Gemini or OpenRouter for a real analysis.`, project)
}
