package repository

import (
	"context"
	"time"

	"health-triage/internal/domain/model"
)

// TranslationCache memoises Language Service results keyed by text and pair.
type TranslationCache interface {
	Get(ctx context.Context, from, to model.Language, text string) (string, bool)
	Set(ctx context.Context, from, to model.Language, text, translated string, ttl time.Duration)
}

// RateLimiter caps per-key events inside a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
