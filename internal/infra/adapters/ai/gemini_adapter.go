// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"health-triage/internal/domain/ports/adapter"
)

var _ adapter.ModelProvider = (*GeminiProvider)(nil)

type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini provider using the official SDK.
func NewGeminiProvider(ctx context.Context, apiKey, baseURL string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: c}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Generate(ctx context.Context, model string, p adapter.Prompt, opts adapter.GenerateOptions) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, toGenAIContents(p), toGenAIConfig(p, opts))
	if err != nil {
		return "", err
	}
	text := extractGenAIText(resp)
	if strings.TrimSpace(text) == "" {
		return "", &ProviderError{Provider: "gemini", StatusCode: http.StatusBadGateway, Code: "empty_response", Message: "no text candidates"}
	}
	return text, nil
}

// --- internal ---

func toGenAIContents(p adapter.Prompt) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(p.Text)}
	if p.Image != nil && len(p.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(p.Image.Data, p.Image.MIMEType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func toGenAIConfig(p adapter.Prompt, opts adapter.GenerateOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(opts.MaxTokens),
		StopSequences:   opts.Stop,
	}
	if p.System != "" {
		// system instructions go through config, not history
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if opts.Temperature >= 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(opts.TopP))
	}
	if opts.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(opts.TopK))
	}
	return cfg
}

func extractGenAIText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
