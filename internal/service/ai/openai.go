package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for the OpenAI API. Supports
// streaming and prompt preview; token counting falls back to the shared
// heuristic.
type OpenAIProvider struct {
	client openai.Client
	model  string
	name   string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: client, model: model, name: ProviderOpenAI}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.Prompt != "" {
		messages = append(messages, openai.SystemMessage(req.Prompt))
	}
	messages = append(messages, openai.UserMessage(req.Text))
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
}

// Translate performs a blocking call and returns the full response.
func (p *OpenAIProvider) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", NewProviderError(p.name, KindNoContent, 0, errors.New("no choices returned"))
	}

	choice := resp.Choices[0]
	switch choice.FinishReason {
	case "length":
		return "", NewProviderError(p.name, KindMaxTokens, 0, errors.New("finish reason length"))
	case "content_filter":
		return "", NewProviderError(p.name, KindProhibitedContent, 0, errors.New("response blocked by content filter"))
	}
	if choice.Message.Content == "" {
		return "", NewProviderError(p.name, KindNoContent, 0, errors.New("empty response"))
	}
	return choice.Message.Content, nil
}

// TranslateStream delivers incremental text through onPartial and returns
// the concatenated result.
func (p *OpenAIProvider) TranslateStream(ctx context.Context, req Request, onPartial PartialFunc) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var full string
	finishReason := ""
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			full += choice.Delta.Content
			if onPartial != nil {
				onPartial(choice.Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", p.wrapError(err)
	}

	switch finishReason {
	case "length":
		return "", NewProviderError(p.name, KindMaxTokens, 0, errors.New("finish reason length"))
	case "content_filter":
		return "", NewProviderError(p.name, KindProhibitedContent, 0, errors.New("response blocked by content filter"))
	}
	if full == "" {
		return "", NewProviderError(p.name, KindNoContent, 0, errors.New("stream produced no content"))
	}
	return full, nil
}

// EstimateTokens returns the shared heuristic estimate.
func (p *OpenAIProvider) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// BuildUserPrompt exposes the exact framing the adapter sends.
func (p *OpenAIProvider) BuildUserPrompt(text, targetLanguage, prompt string) PromptPreview {
	return PromptPreview{UserPrompt: text, SystemPrompt: prompt}
}

func (p *OpenAIProvider) wrapError(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return NewProviderError(p.name, Classify(status, err), status, err)
}
