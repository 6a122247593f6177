package language

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/logging"
)

var (
	_ adapter.LanguageService = (*ModelService)(nil)
	_ adapter.LanguageService = (*PassthroughService)(nil)
)

// ModelService detects by script and translates through the model gateway.
// Results are memoised in cache when one is configured; concurrent requests
// for the same text share a single model call.
type ModelService struct {
	gen   adapter.TextGenerator
	cache repository.TranslationCache
	ttl   time.Duration
	opts  adapter.GenerateOptions
	group singleflight.Group
	log   zerolog.Logger
}

// NewModelService returns a gateway-backed translator. cache may be nil.
func NewModelService(gen adapter.TextGenerator, cache repository.TranslationCache, ttl time.Duration, logger *zerolog.Logger) *ModelService {
	return &ModelService{
		gen:   gen,
		cache: cache,
		ttl:   ttl,
		opts:  adapter.GenerateOptions{MaxTokens: 512, Temperature: 0},
		log:   logger.With().Str("component", "LanguageService").Logger(),
	}
}

func (s *ModelService) Detect(_ context.Context, text string) (model.Language, error) {
	return DetectScript(text)
}

func (s *ModelService) Translate(ctx context.Context, text string, from, to model.Language) (string, error) {
	if from == to || strings.TrimSpace(text) == "" {
		return text, nil
	}
	if !from.Valid() || !to.Valid() {
		return "", fmt.Errorf("%w: %s->%s", domain.ErrUnsupportedLanguage, from, to)
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, from, to, text); ok {
			return v, nil
		}
	}

	key := string(from) + ":" + string(to) + ":" + text
	// the flight outlives any single caller; gateway attempt timeouts bound it
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		out, err := s.translate(flightCtx, text, from, to)
		if err == nil && s.cache != nil {
			s.cache.Set(flightCtx, from, to, text, out, s.ttl)
		}
		return out, err
	})
	if err != nil {
		logging.With(ctx, &s.log).Warn().Err(err).
			Str("from", string(from)).Str("to", string(to)).Msg("translation failed")
		return "", err
	}
	return v.(string), nil
}

func (s *ModelService) translate(ctx context.Context, text string, from, to model.Language) (string, error) {
	defer logging.TraceDuration(&s.log, "LanguageService.Translate")()
	g, err := s.gen.Generate(ctx, "", adapter.Prompt{
		System: fmt.Sprintf("Translate the user's message from %s to %s. "+
			"Reply with the translation only, keeping numbers and medical terms intact.", from.Name(), to.Name()),
		Text: text,
	}, s.opts)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", from, to, err)
	}
	out := strings.TrimSpace(g.Text)
	if out == "" {
		return "", errors.New("translate: empty model output")
	}
	return out, nil
}

// PassthroughService never translates. It is the dev default when no model
// is configured; the classifier then only understands English input.
type PassthroughService struct{}

func NewPassthroughService() *PassthroughService { return &PassthroughService{} }

func (PassthroughService) Detect(_ context.Context, text string) (model.Language, error) {
	return DetectScript(text)
}

func (PassthroughService) Translate(_ context.Context, text string, _, _ model.Language) (string, error) {
	return text, nil
}
