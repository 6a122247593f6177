package ai

import (
	"context"

	"health-triage/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ModelProvider = (*limitedProvider)(nil)

type limitedProvider struct {
	inner adapter.ModelProvider
	sem   chan struct{}
}

// NewLimitedProvider bounds concurrent calls to inner. Waiting for a slot
// honours ctx so the per-attempt timeout covers queueing too.
func NewLimitedProvider(inner adapter.ModelProvider, maxConcurrent int) adapter.ModelProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Generate(ctx context.Context, model string, p adapter.Prompt, opts adapter.GenerateOptions) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, model, p, opts)
}
