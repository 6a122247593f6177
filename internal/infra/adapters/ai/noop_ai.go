package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain/ports/adapter"
)

var _ adapter.ModelProvider = (*NoopProvider)(nil)

// NoopProvider answers locally for dev runs without API keys. It emits the
// tagged reply contract so the full parsing path is exercised.
type NoopProvider struct {
	log   *zerolog.Logger
	delay time.Duration
}

func NewNoopProvider(logger *zerolog.Logger) *NoopProvider {
	return &NoopProvider{log: logger, delay: 50 * time.Millisecond}
}

func (a *NoopProvider) Name() string { return "noop" }

func (a *NoopProvider) Generate(ctx context.Context, model string, p adapter.Prompt, _ adapter.GenerateOptions) (string, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if a.log != nil {
		a.log.Debug().Str("model", model).Int("prompt_len", len(p.Text)).Msg("noop generate")
	}
	if strings.Contains(p.System, "Translate") {
		return p.Text, nil
	}
	return "[ANSWER]I can share general health information, but I am running in offline mode.[/ANSWER]" +
		"[ADVICE]Rest, drink fluids, and monitor how you feel.[/ADVICE]" +
		"[WARNING]If symptoms get worse, contact a health worker.[/WARNING]", nil
}
