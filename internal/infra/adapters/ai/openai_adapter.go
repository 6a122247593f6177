// File: internal/infra/adapters/ai/openai_adapter.go
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"health-triage/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ModelProvider = (*OpenAIProvider)(nil)

// OpenAIProvider talks to any OpenAI-compatible Chat Completions endpoint.
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Generate(ctx context.Context, model string, p adapter.Prompt, opts adapter.GenerateOptions) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, buildChatParams(model, p, opts))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ProviderError{Provider: "openai", StatusCode: http.StatusBadGateway, Code: "empty_response", Message: "no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func buildChatParams(model string, p adapter.Prompt, opts adapter.GenerateOptions) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	if p.Image != nil && len(p.Image.Data) > 0 {
		url := "data:" + p.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Image.Data)
		msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(p.Text),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
		}))
	} else {
		msgs = append(msgs, openai.UserMessage(p.Text))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature >= 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}
	return params
}
