package ai

// CompatibleProvider implements Provider for OpenAI-compatible APIs such
// as OpenRouter, Azure OpenAI or Ollama. The wire behavior is the OpenAI
// adapter pointed at a custom base URL.
type CompatibleProvider struct {
	*OpenAIProvider
}

// NewCompatibleProvider creates a new OpenAI-compatible provider.
func NewCompatibleProvider(apiKey, baseURL, model string) (*CompatibleProvider, error) {
	inner, err := NewOpenAIProvider(apiKey, baseURL, model)
	if err != nil {
		return nil, err
	}
	inner.name = ProviderCompatible
	return &CompatibleProvider{OpenAIProvider: inner}, nil
}
