// Package mock provides scriptable provider implementations for tests.
package mock

import (
	"context"
	"sync"

	"sublingo/internal/service/ai"
)

// Provider is a scriptable blocking-only provider. Optional capabilities
// are deliberately absent so capability detection can be exercised.
type Provider struct {
	NameValue     string
	TranslateFunc func(ctx context.Context, req ai.Request) (string, error)
	EstimateFunc  func(text string) int

	mu    sync.Mutex
	calls []ai.Request
}

// Name returns the configured name, defaulting to "mock".
func (p *Provider) Name() string {
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Translate records the request and delegates to TranslateFunc.
func (p *Provider) Translate(ctx context.Context, req ai.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.TranslateFunc == nil {
		return "", nil
	}
	return p.TranslateFunc(ctx, req)
}

// EstimateTokens delegates to EstimateFunc or the shared heuristic.
func (p *Provider) EstimateTokens(text string) int {
	if p.EstimateFunc != nil {
		return p.EstimateFunc(text)
	}
	return ai.EstimateTokens(text)
}

// Calls returns a copy of all recorded requests.
func (p *Provider) Calls() []ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ai.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Translate invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// StreamProvider extends Provider with the streaming and token counting
// capabilities.
type StreamProvider struct {
	Provider
	StreamFunc func(ctx context.Context, req ai.Request, onPartial ai.PartialFunc) (string, error)
	CountFunc  func(ctx context.Context, text, targetLanguage, prompt string) (int, error)

	mu          sync.Mutex
	streamCalls []ai.Request
}

// TranslateStream records the request and delegates to StreamFunc.
func (p *StreamProvider) TranslateStream(ctx context.Context, req ai.Request, onPartial ai.PartialFunc) (string, error) {
	p.mu.Lock()
	p.streamCalls = append(p.streamCalls, req)
	p.mu.Unlock()
	if p.StreamFunc == nil {
		return "", nil
	}
	return p.StreamFunc(ctx, req, onPartial)
}

// CountTokensForTranslation delegates to CountFunc or falls back to the
// heuristic.
func (p *StreamProvider) CountTokensForTranslation(ctx context.Context, text, targetLanguage, prompt string) (int, error) {
	if p.CountFunc != nil {
		return p.CountFunc(ctx, text, targetLanguage, prompt)
	}
	return ai.EstimateTokens(text), nil
}

// StreamCallCount returns the number of TranslateStream invocations.
func (p *StreamProvider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streamCalls)
}
