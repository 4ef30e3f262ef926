// Package ai defines the provider port for translation backends and the
// concrete adapters (Gemini, OpenAI, Anthropic, OpenAI-compatible).
package ai

import (
	"context"
	"errors"
)

// Request carries one translation call to a backend. Prompt is the full
// instruction prompt built by the engine; Text is the payload rendered in
// the engine's batch format.
type Request struct {
	Text           string
	SourceHint     string
	TargetLanguage string
	Prompt         string
}

// PartialFunc receives incremental response text during a streaming call.
// Chunks are deltas; the caller accumulates.
type PartialFunc func(chunk string)

// Provider is the minimum capability set a translation backend supplies.
type Provider interface {
	// Name returns the provider kind for logs and error reporting.
	Name() string
	// Translate performs a blocking call and returns the full response.
	Translate(ctx context.Context, req Request) (string, error)
	// EstimateTokens returns a cheap token estimate for text.
	EstimateTokens(text string) int
}

// StreamTranslator is the optional streaming capability.
type StreamTranslator interface {
	// TranslateStream delivers incremental text through onPartial and
	// returns the concatenated result.
	TranslateStream(ctx context.Context, req Request, onPartial PartialFunc) (string, error)
}

// TokenCounter is the optional authoritative token counting capability.
type TokenCounter interface {
	// CountTokensForTranslation returns the backend's own count for the
	// request the adapter would send.
	CountTokensForTranslation(ctx context.Context, text, targetLanguage, prompt string) (int, error)
}

// UserPromptBuilder lets the engine see what the adapter would actually
// send, so token estimation includes framing.
type UserPromptBuilder interface {
	BuildUserPrompt(text, targetLanguage, prompt string) PromptPreview
}

// PromptPreview is the adapter's rendering of a request.
type PromptPreview struct {
	UserPrompt   string
	SystemPrompt string
}

// Capabilities is the once-detected optional capability set of a provider.
// Nil fields mean the capability is unsupported; the engine inspects this
// at construction time and never probes again.
type Capabilities struct {
	TranslateStream func(ctx context.Context, req Request, onPartial PartialFunc) (string, error)
	CountTokens     func(ctx context.Context, text, targetLanguage, prompt string) (int, error)
	BuildUserPrompt func(text, targetLanguage, prompt string) PromptPreview
}

// DetectCapabilities inspects p for its optional capabilities.
func DetectCapabilities(p Provider) Capabilities {
	var caps Capabilities
	if st, ok := p.(StreamTranslator); ok {
		caps.TranslateStream = st.TranslateStream
	}
	if tc, ok := p.(TokenCounter); ok {
		caps.CountTokens = tc.CountTokensForTranslation
	}
	if pb, ok := p.(UserPromptBuilder); ok {
		caps.BuildUserPrompt = pb.BuildUserPrompt
	}
	return caps
}

// EstimateTokens is the shared fallback heuristic: ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Config holds the configuration for a provider instance.
type Config struct {
	Provider string // gemini, openai, anthropic, compatible
	APIKey   string
	BaseURL  string // optional for openai, required for compatible
	Model    string
}

// Provider kind constants.
const (
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderCompatible = "compatible"
)

var (
	ErrInvalidProvider = errors.New("invalid provider")
	ErrMissingAPIKey   = errors.New("API key is required")
	ErrMissingBaseURL  = errors.New("base URL is required for compatible provider")
	ErrMissingModel    = errors.New("model is required")
)

// NewProvider creates a translation backend from cfg.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}

	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderCompatible:
		if cfg.BaseURL == "" {
			return nil, ErrMissingBaseURL
		}
		return NewCompatibleProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, ErrInvalidProvider
	}
}
