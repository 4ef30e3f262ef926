package ai

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens caps the response size; batches are sized well below
// this by the engine's token budget.
const anthropicMaxTokens = 8192

// AnthropicProvider implements Provider for the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, baseURL, model string) (*AnthropicProvider, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: client, model: model}, nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

func (p *AnthropicProvider) params(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)),
		},
	}
	if req.Prompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Prompt}}
	}
	return params
}

// Translate performs a blocking call and returns the full response.
func (p *AnthropicProvider) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return "", p.wrapError(err)
	}
	if err := p.checkStop(resp.StopReason); err != nil {
		return "", err
	}

	var text string
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += v.Text
		}
	}
	if text == "" {
		return "", NewProviderError(ProviderAnthropic, KindNoContent, 0, errors.New("empty response"))
	}
	return text, nil
}

// TranslateStream delivers incremental text through onPartial and returns
// the concatenated result.
func (p *AnthropicProvider) TranslateStream(ctx context.Context, req Request, onPartial PartialFunc) (string, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))

	var full string
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", NewProviderError(ProviderAnthropic, KindInvalidResponse, 0, err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				full += deltaVariant.Text
				if onPartial != nil {
					onPartial(deltaVariant.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", p.wrapError(err)
	}
	if err := p.checkStop(message.StopReason); err != nil {
		return "", err
	}
	if full == "" {
		return "", NewProviderError(ProviderAnthropic, KindNoContent, 0, errors.New("stream produced no content"))
	}
	return full, nil
}

// EstimateTokens returns the shared heuristic estimate.
func (p *AnthropicProvider) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// BuildUserPrompt exposes the exact framing the adapter sends.
func (p *AnthropicProvider) BuildUserPrompt(text, targetLanguage, prompt string) PromptPreview {
	return PromptPreview{UserPrompt: text, SystemPrompt: prompt}
}

func (p *AnthropicProvider) checkStop(reason anthropic.StopReason) error {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return NewProviderError(ProviderAnthropic, KindMaxTokens, 0, errors.New("stop reason max_tokens"))
	case anthropic.StopReasonRefusal:
		return NewProviderError(ProviderAnthropic, KindProhibitedContent, 0, errors.New("model refused the request"))
	}
	return nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return NewProviderError(ProviderAnthropic, Classify(status, err), status, err)
}
