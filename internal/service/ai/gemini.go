package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider for the Google Gemini API. It is the
// reference adapter: it supports streaming, authoritative token counting
// and prompt preview.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

func (p *GeminiProvider) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Prompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Prompt}},
		}
	}
	return cfg
}

// Translate performs a blocking call and returns the full response.
func (p *GeminiProvider) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Text), p.generateConfig(req))
	if err != nil {
		return "", p.wrapError(err)
	}
	if err := p.checkFinish(resp); err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", NewProviderError(ProviderGemini, KindNoContent, 0, errors.New("empty response"))
	}
	return text, nil
}

// TranslateStream delivers incremental text through onPartial and returns
// the concatenated result.
func (p *GeminiProvider) TranslateStream(ctx context.Context, req Request, onPartial PartialFunc) (string, error) {
	var full string
	var last *genai.GenerateContentResponse

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, genai.Text(req.Text), p.generateConfig(req)) {
		if err != nil {
			return "", p.wrapError(err)
		}
		last = resp
		if chunk := resp.Text(); chunk != "" {
			full += chunk
			if onPartial != nil {
				onPartial(chunk)
			}
		}
	}

	if last != nil {
		if err := p.checkFinish(last); err != nil {
			return "", err
		}
	}
	if full == "" {
		return "", NewProviderError(ProviderGemini, KindNoContent, 0, errors.New("stream produced no content"))
	}
	return full, nil
}

// EstimateTokens returns the shared heuristic estimate.
func (p *GeminiProvider) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// CountTokensForTranslation asks the API for an authoritative token count
// of the request as it would be sent.
func (p *GeminiProvider) CountTokensForTranslation(ctx context.Context, text, targetLanguage, prompt string) (int, error) {
	preview := p.BuildUserPrompt(text, targetLanguage, prompt)
	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: preview.SystemPrompt + "\n" + preview.UserPrompt}}, Role: genai.RoleUser},
	}
	resp, err := p.client.Models.CountTokens(ctx, p.model, contents, nil)
	if err != nil {
		return 0, p.wrapError(err)
	}
	return int(resp.TotalTokens), nil
}

// BuildUserPrompt exposes the exact framing the adapter sends.
func (p *GeminiProvider) BuildUserPrompt(text, targetLanguage, prompt string) PromptPreview {
	return PromptPreview{UserPrompt: text, SystemPrompt: prompt}
}

func (p *GeminiProvider) checkFinish(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return NewProviderError(ProviderGemini, KindNoContent, 0, errors.New("no candidates returned"))
	}
	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonMaxTokens:
		return NewProviderError(ProviderGemini, KindMaxTokens, 0, errors.New("finish reason MAX_TOKENS"))
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		return NewProviderError(ProviderGemini, KindProhibitedContent, 0, errors.New("response blocked for safety"))
	}
	return nil
}

func (p *GeminiProvider) wrapError(err error) error {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	return NewProviderError(ProviderGemini, Classify(status, err), status, err)
}
