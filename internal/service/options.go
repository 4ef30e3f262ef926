package service

import (
	"strings"
	"time"

	"sublingo/internal/service/ai"
)

// Engine tuning defaults.
const (
	defaultMaxTokensPerBatch   = 30000
	defaultSingleBatchMaxChunk = 100000
	defaultContextSize         = 5
	defaultRetryAttempts       = 2
	defaultInterBatchDelay     = time.Second

	// Soft limit applied before single-batch chunking kicks in.
	singleBatchSoftLimitFactor = 0.9
)

// Options is the explicit, defaulted option record the engine runs with.
// It is constructed at the boundary; the raw session blob never crosses
// into the engine.
type Options struct {
	TargetLanguage     string
	Model              string
	CustomPrompt       string
	SingleBatchMode    bool
	SendTimestampsToAI bool
	EnableBatchContext bool
	ContextSize        int
	EnableStreaming    bool

	MaxTokensPerBatch         int
	SingleBatchMaxChunkTokens int
	BatchSizeOverride         int
	RetryAttempts             int
	InterBatchDelay           time.Duration
	NoInterBatchDelay         bool
}

func (o Options) withDefaults() Options {
	if o.MaxTokensPerBatch <= 0 {
		o.MaxTokensPerBatch = defaultMaxTokensPerBatch
	}
	if o.SingleBatchMaxChunkTokens <= 0 {
		o.SingleBatchMaxChunkTokens = defaultSingleBatchMaxChunk
	}
	if o.ContextSize <= 0 {
		o.ContextSize = defaultContextSize
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.InterBatchDelay <= 0 && !o.NoInterBatchDelay {
		o.InterBatchDelay = defaultInterBatchDelay
	}
	return o
}

// batchSize resolves the per-batch entry count: explicit override first,
// otherwise derived from the model name (fast variants take bigger
// batches).
func (o Options) batchSize() int {
	if o.BatchSizeOverride > 0 {
		return o.BatchSizeOverride
	}
	model := strings.ToLower(o.Model)
	switch {
	case strings.Contains(model, "lite"), strings.Contains(model, "mini"):
		return 200
	case strings.Contains(model, "flash"):
		return 250
	default:
		return 200
	}
}

// OptionsFromConfig decodes the opaque session config blob into engine
// options, applying defaults for anything absent. Nested advancedSettings
// keys mirror the client configuration shape.
func OptionsFromConfig(blob map[string]any, defaults Options) Options {
	opts := defaults
	if blob == nil {
		return opts.withDefaults()
	}

	if v := cfgString(blob, "targetLanguage"); v != "" {
		opts.TargetLanguage = v
	}
	if v := cfgString(blob, "model"); v != "" {
		opts.Model = v
	}
	if v := cfgString(blob, "customPrompt"); v != "" {
		opts.CustomPrompt = v
	}

	adv, _ := blob["advancedSettings"].(map[string]any)
	if adv != nil {
		if v, ok := cfgBool(adv, "singleBatchMode"); ok {
			opts.SingleBatchMode = v
		}
		if v, ok := cfgBool(adv, "sendTimestampsToAI"); ok {
			opts.SendTimestampsToAI = v
		}
		if v, ok := cfgBool(adv, "enableBatchContext"); ok {
			opts.EnableBatchContext = v
		}
		if v, ok := cfgInt(adv, "contextSize"); ok && v > 0 {
			opts.ContextSize = v
		}
		if v, ok := cfgBool(adv, "enableStreaming"); ok {
			opts.EnableStreaming = v
		}
	}

	return opts.withDefaults()
}

// ProviderConfigFromSession extracts the primary and optional fallback
// provider configuration from the session blob.
func ProviderConfigFromSession(blob map[string]any) (primary ai.Config, fallback *ai.Config) {
	primary = ai.Config{
		Provider: cfgString(blob, "provider"),
		APIKey:   cfgString(blob, "apiKey"),
		BaseURL:  cfgString(blob, "baseUrl"),
		Model:    cfgString(blob, "model"),
	}
	if primary.Provider == "" {
		primary.Provider = ai.ProviderGemini
	}

	if cfgString(blob, "fallbackApiKey") != "" || cfgString(blob, "fallbackModel") != "" {
		fb := ai.Config{
			Provider: cfgString(blob, "fallbackProvider"),
			APIKey:   cfgString(blob, "fallbackApiKey"),
			BaseURL:  cfgString(blob, "fallbackBaseUrl"),
			Model:    cfgString(blob, "fallbackModel"),
		}
		if fb.Provider == "" {
			fb.Provider = primary.Provider
		}
		if fb.APIKey == "" {
			fb.APIKey = primary.APIKey
		}
		fallback = &fb
	}
	return primary, fallback
}

func cfgString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func cfgBool(m map[string]any, key string) (bool, bool) {
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		return v == "true", v == "true" || v == "false"
	default:
		return false, false
	}
}

func cfgInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
