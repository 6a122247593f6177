package adapter

import "context"

// InlineImage is an optional picture attached to a prompt (e.g. a rash photo).
type InlineImage struct {
	Data     []byte
	MIMEType string
}

// Prompt is the text (and optional image) sent to a model.
type Prompt struct {
	System string
	Text   string
	Image  *InlineImage
}

type GenerateOptions struct {
	MaxTokens int
	// Temperature is sent as is, 0 included; negative leaves the provider default.
	Temperature float64
	TopP        float64
	TopK        int
	Stop        []string
}

// ModelProvider is the port for a single LLM backend. Implementations return
// their SDK errors unwrapped so the gateway can classify them by status.
type ModelProvider interface {
	Name() string
	Generate(ctx context.Context, model string, p Prompt, opts GenerateOptions) (string, error)
}

// TokenCounter estimates prompt size for history budgeting.
type TokenCounter interface {
	Count(text string) int
}

// Generation is the outcome of a gateway call handed to the conversation layer.
type Generation struct {
	Text         string
	ModelUsed    string
	AttemptCount int
}

// TextGenerator is the resilient multi-model entry point. preferred may be
// empty; it is tried first when it is a configured, non-failed candidate.
type TextGenerator interface {
	Generate(ctx context.Context, preferred string, p Prompt, opts GenerateOptions) (Generation, error)
}
