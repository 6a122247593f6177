package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/metrics"
)

var _ repository.TranslationCache = (*TranslationCache)(nil)

// TranslationCache stores translated strings keyed by language pair and a
// digest of the source text.
type TranslationCache struct {
	client RedisClient
}

func NewTranslationCache(client RedisClient) *TranslationCache {
	return &TranslationCache{client: client}
}

func (c *TranslationCache) key(from, to model.Language, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "translation:" + string(from) + ":" + string(to) + ":" + hex.EncodeToString(sum[:16])
}

func (c *TranslationCache) Get(ctx context.Context, from, to model.Language, text string) (string, bool) {
	v, err := c.client.Get(ctx, c.key(from, to, text))
	if err != nil {
		metrics.IncCacheRequest("translation", "miss")
		return "", false
	}
	metrics.IncCacheRequest("translation", "hit")
	return v, true
}

func (c *TranslationCache) Set(ctx context.Context, from, to model.Language, text, translated string, ttl time.Duration) {
	_ = c.client.Set(ctx, c.key(from, to, text), translated, ttl)
}
