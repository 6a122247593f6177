package usecase

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/infra/logging"
	"health-triage/internal/infra/metrics"
)

const (
	SimilarityThreshold = 0.7
	continuityBias      = 0.1
	keywordBase         = 0.5
	keywordStep         = 0.05
	keywordCap          = 0.65
	unknownConfidence   = 0.1
)

// ClassifierUseCase turns one utterance into intent, entities, sentiment and
// urgency. It never fails: every error degrades to an unknown classification.
type ClassifierUseCase interface {
	Classify(ctx context.Context, text string, lang model.Language, conv *model.Context) model.Classification
}

var _ ClassifierUseCase = (*classifierUC)(nil)

type preparedExample struct {
	intent model.Intent
	tokens []string
	grams  map[string]int
}

type preparedKeywords struct {
	intent   model.Intent
	keywords []string
}

type classifierUC struct {
	lang     adapter.LanguageService
	examples []preparedExample
	keywords []preparedKeywords
	symptoms *symptomVocabulary
	critical []string
	high     []string
	log      zerolog.Logger
}

func NewClassifierUseCase(kb adapter.KnowledgeBase, lang adapter.LanguageService, logger *zerolog.Logger) *classifierUC {
	u := &classifierUC{
		lang:     lang,
		symptoms: newSymptomVocabulary(kb.Profiles()),
		critical: normalizeAll(criticalPhrases),
		high:     normalizeAll(highPhrases),
		log:      logger.With().Str("component", "classifier").Logger(),
	}
	for _, def := range kb.Intents() {
		for _, ex := range def.Examples {
			n := normalize(ex)
			u.examples = append(u.examples, preparedExample{intent: def.Intent, tokens: strings.Fields(n), grams: bigrams(strings.ReplaceAll(n, " ", ""))})
		}
		u.keywords = append(u.keywords, preparedKeywords{intent: def.Intent, keywords: normalizeAll(def.Keywords)})
	}
	return u
}

func (u *classifierUC) Classify(ctx context.Context, text string, lang model.Language, conv *model.Context) model.Classification {
	defer logging.TraceDuration(&u.log, "ClassifierUC.Classify")()

	if !lang.Valid() {
		lang = model.WorkingLanguage
	}
	working := u.toWorking(ctx, text, lang)
	normalized := normalize(working)

	c := model.Classification{
		Intent:         model.IntentUnknown,
		Confidence:     unknownConfidence,
		Source:         model.SourceFallback,
		Language:       lang,
		NormalizedText: normalized,
		Sentiment:      model.SentimentNeutral,
		Urgency:        model.UrgencyLow,
	}
	if normalized == "" {
		metrics.IncIntent(string(c.Intent), string(c.Source))
		return c
	}

	var current model.Intent
	if conv != nil {
		current = conv.CurrentIntent
	}
	if intent, score := u.bestExample(normalized, current); score >= SimilarityThreshold {
		c.Intent, c.Confidence, c.Source = intent, score, model.SourceSimilarity
	} else if intent, hits := u.bestKeywords(normalized); hits > 0 {
		c.Intent = intent
		c.Confidence = math.Min(keywordCap, keywordBase+keywordStep*float64(hits-1))
		c.Source = model.SourceKeyword
	}

	c.Entities = extractEntities(working, normalized, u.symptoms)
	c.Sentiment = scoreSentiment(normalized)
	c.Urgency = u.urgency(normalized, c.Entities)

	metrics.IncIntent(string(c.Intent), string(c.Source))
	return c
}

func (u *classifierUC) toWorking(ctx context.Context, text string, lang model.Language) string {
	if lang == model.WorkingLanguage || u.lang == nil {
		return text
	}
	out, err := u.lang.Translate(ctx, text, lang, model.WorkingLanguage)
	if err != nil || strings.TrimSpace(out) == "" {
		u.log.Warn().Err(err).Str("lang", lang.String()).Msg("translation to working language failed, classifying raw text")
		return text
	}
	return out
}

// bestExample scores the utterance against every library example. Ties keep
// the earlier example so the library order decides.
func (u *classifierUC) bestExample(normalized string, current model.Intent) (model.Intent, float64) {
	toks := strings.Fields(normalized)
	grams := bigrams(strings.ReplaceAll(normalized, " ", ""))
	var (
		best  model.Intent
		score float64
	)
	for _, ex := range u.examples {
		s := 0.5*diceTokens(toks, ex.tokens) + 0.5*diceBigrams(grams, ex.grams)
		if current != "" && ex.intent == current {
			s = math.Min(1, s+continuityBias)
		}
		if s > score {
			best, score = ex.intent, s
		}
	}
	return best, score
}

func (u *classifierUC) bestKeywords(normalized string) (model.Intent, int) {
	var (
		best model.Intent
		hits int
	)
	for _, k := range u.keywords {
		n := 0
		for _, kw := range k.keywords {
			if containsPhrase(normalized, kw) {
				n++
			}
		}
		if n > hits {
			best, hits = k.intent, n
		}
	}
	return best, hits
}

func (u *classifierUC) urgency(normalized string, entities []model.Entity) model.Urgency {
	for _, p := range u.critical {
		if mentions(normalized, p) {
			return model.UrgencyCritical
		}
	}
	for _, p := range u.high {
		if mentions(normalized, p) {
			return model.UrgencyHigh
		}
	}
	n := 0
	for _, e := range entities {
		if e.Type == model.EntitySymptom {
			n++
		}
	}
	if n > 2 {
		return model.UrgencyMedium
	}
	return model.UrgencyLow
}

func scoreSentiment(normalized string) model.Sentiment {
	score := 0
	for _, w := range positiveWords {
		if mentions(normalized, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if containsPhrase(normalized, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return model.SentimentPositive
	case score < 0:
		return model.SentimentNegative
	}
	return model.SentimentNeutral
}
