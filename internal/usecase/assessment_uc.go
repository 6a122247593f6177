package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/infra/metrics"
)

// Acknowledgement template keys returned with each recorded answer.
const (
	AckDuration   = "ack_duration"
	AckSeverity   = "ack_severity"
	AckAssociated = "ack_associated"
	AckGeneric    = "ack_generic"
)

// AnswerOutcome is the result of feeding one answer into the flow. Exactly
// one of Next and Result is set.
type AnswerOutcome struct {
	Context *model.SymptomAssessmentContext
	Ack     string
	Next    *model.Question
	Result  *model.AssessmentResult
}

// AssessmentUseCase drives the symptom question flows. It is pure: every
// call returns a fresh context and leaves its input untouched.
type AssessmentUseCase interface {
	Detect(c model.Classification) (model.Symptom, bool)
	Start(symptom model.Symptom, complaint string, now time.Time) (*model.SymptomAssessmentContext, model.Question, error)
	// Answer records answer verbatim and parses working, the normalised
	// English form of the same text. An empty working parses answer itself.
	Answer(a *model.SymptomAssessmentContext, answer, working string, now time.Time) (AnswerOutcome, error)
	Question(a *model.SymptomAssessmentContext) (model.Question, bool)
	Synthesize(a *model.SymptomAssessmentContext, now time.Time) (model.AssessmentResult, error)
	Stale(a *model.SymptomAssessmentContext, now time.Time) bool
}

var _ AssessmentUseCase = (*assessmentUC)(nil)

type assessmentUC struct {
	kb           adapter.KnowledgeBase
	abandonAfter time.Duration
	log          zerolog.Logger
}

func NewAssessmentUseCase(kb adapter.KnowledgeBase, abandonAfter time.Duration, logger *zerolog.Logger) *assessmentUC {
	return &assessmentUC{
		kb:           kb,
		abandonAfter: abandonAfter,
		log:          logger.With().Str("component", "assessment").Logger(),
	}
}

func (u *assessmentUC) Detect(c model.Classification) (model.Symptom, bool) {
	for _, e := range c.EntitiesOf(model.EntitySymptom) {
		if _, ok := u.kb.Profile(model.Symptom(e.Value)); ok {
			return model.Symptom(e.Value), true
		}
	}
	for _, p := range u.kb.Profiles() {
		for _, kw := range p.Keywords {
			if mentions(c.NormalizedText, normalize(kw)) {
				return p.Symptom, true
			}
		}
	}
	return "", false
}

func (u *assessmentUC) Start(symptom model.Symptom, complaint string, now time.Time) (*model.SymptomAssessmentContext, model.Question, error) {
	p, ok := u.kb.Profile(symptom)
	if !ok {
		return nil, model.Question{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymptom, symptom)
	}
	a := &model.SymptomAssessmentContext{
		PrimarySymptom:   symptom,
		InitialComplaint: strings.TrimSpace(complaint),
		FlowLength:       len(p.Flow),
		StartedAt:        now,
		UpdatedAt:        now,
	}
	text := normalize(complaint)
	if sev, ok := severityFromWords(text); ok {
		a.Severity = sev
	}
	if days, ok := parseDurationDays(text); ok {
		a.DurationDays = days
	}
	a.AssociatedSymptoms = associatedIn(text, p, nil)
	if age, ok := extractAge(text); ok {
		a.PatientAge, _ = strconv.Atoi(age.Value)
	}
	metrics.IncAssessment(string(symptom), "started")
	u.log.Debug().Str("symptom", string(symptom)).Int("steps", a.FlowLength).Msg("assessment started")
	return a, p.Flow[0], nil
}

func (u *assessmentUC) Question(a *model.SymptomAssessmentContext) (model.Question, bool) {
	if a == nil || a.IsComplete() {
		return model.Question{}, false
	}
	p, ok := u.kb.Profile(a.PrimarySymptom)
	if !ok || a.StepIndex >= len(p.Flow) {
		return model.Question{}, false
	}
	return p.Flow[a.StepIndex], true
}

func (u *assessmentUC) Stale(a *model.SymptomAssessmentContext, now time.Time) bool {
	return a != nil && !a.IsComplete() && u.abandonAfter > 0 && now.Sub(a.UpdatedAt) > u.abandonAfter
}

func (u *assessmentUC) Answer(a *model.SymptomAssessmentContext, answer, working string, now time.Time) (AnswerOutcome, error) {
	if a == nil {
		return AnswerOutcome{}, fmt.Errorf("%w: no assessment in progress", domain.ErrInvalidArgument)
	}
	if a.Completed || a.IsComplete() {
		return AnswerOutcome{}, domain.ErrAssessmentComplete
	}
	p, ok := u.kb.Profile(a.PrimarySymptom)
	if !ok {
		return AnswerOutcome{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymptom, a.PrimarySymptom)
	}
	if a.StepIndex >= len(p.Flow) {
		// the profile lost steps since this context was saved
		return u.finish(p, a.Clone(), AckGeneric, now), nil
	}
	q := p.Flow[a.StepIndex]
	next := a.Clone()
	raw := strings.TrimSpace(answer)
	if strings.TrimSpace(working) == "" {
		working = raw
	}
	text := normalize(working)

	ack := AckGeneric
	switch q.Type {
	case model.QuestionDuration:
		next.Duration = raw
		if days, ok := parseDurationDays(text); ok {
			next.DurationDays = days
		}
		ack = AckDuration
	case model.QuestionSeverity:
		if sev, ok := parseSeverity(text); ok {
			next.Severity = sev
		}
		ack = AckSeverity
	case model.QuestionAssociated:
		ack = AckAssociated
	case model.QuestionLocation:
		next.BodyLocation = raw
	case model.QuestionTriggers:
		next.Triggers = raw
	case model.QuestionAge:
		if n, ok := parseAgeAnswer(text); ok {
			next.PatientAge = n
		}
		if g, ok := parseGender(text); ok {
			next.PatientGender = g
		}
	}
	// any answer may mention further symptoms of the closed list
	next.AssociatedSymptoms = associatedIn(text, p, next.AssociatedSymptoms)

	next.Answers = append(next.Answers, model.AnswerRecord{Question: q.Type, Answer: raw, Parsed: text, At: now})
	next.StepIndex++
	next.UpdatedAt = now

	if next.StepIndex < next.FlowLength && next.StepIndex < len(p.Flow) {
		nq := p.Flow[next.StepIndex]
		return AnswerOutcome{Context: next, Ack: ack, Next: &nq}, nil
	}
	return u.finish(p, next, ack, now), nil
}

func (u *assessmentUC) finish(p model.SymptomProfile, next *model.SymptomAssessmentContext, ack string, now time.Time) AnswerOutcome {
	next.StepIndex = next.FlowLength
	next.Completed = true
	next.UpdatedAt = now
	res := synthesize(p, next, now)
	metrics.IncAssessment(string(next.PrimarySymptom), "completed")
	u.log.Info().Str("symptom", string(next.PrimarySymptom)).Str("urgency", string(res.Urgency)).
		Int("red_flags", len(res.MatchedRedFlags)).Msg("assessment completed")
	return AnswerOutcome{Context: next, Ack: ack, Result: &res}
}

func (u *assessmentUC) Synthesize(a *model.SymptomAssessmentContext, now time.Time) (model.AssessmentResult, error) {
	if a == nil {
		return model.AssessmentResult{}, fmt.Errorf("%w: no assessment", domain.ErrInvalidArgument)
	}
	p, ok := u.kb.Profile(a.PrimarySymptom)
	if !ok {
		return model.AssessmentResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymptom, a.PrimarySymptom)
	}
	return synthesize(p, a, now), nil
}

func synthesize(p model.SymptomProfile, a *model.SymptomAssessmentContext, now time.Time) model.AssessmentResult {
	texts := make([]string, 0, len(a.Answers)+1)
	if a.InitialComplaint != "" {
		texts = append(texts, normalize(a.InitialComplaint))
	}
	for _, ans := range a.Answers {
		if ans.Parsed != "" {
			texts = append(texts, ans.Parsed)
			continue
		}
		texts = append(texts, normalize(ans.Answer))
	}
	var matched []string
	for _, flag := range p.RedFlags {
		nf := normalize(flag)
		for _, t := range texts {
			if mentions(t, nf) {
				matched = append(matched, flag)
				break
			}
		}
	}

	tier := model.TierHomeCare
	switch {
	case len(matched) > 0 || a.Severity == model.SeveritySevere:
		tier = model.TierImmediate
	case a.Severity == model.SeverityModerate:
		tier = model.TierSameDay
	}

	conds := make([]model.ConditionMatch, 0, len(p.Conditions))
	overlap := make([]int, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		n := 0
		for _, ind := range c.Indicators {
			if a.HasAssociated(normalize(ind)) {
				n++
			}
		}
		lk := model.LikelihoodLow
		switch {
		case n >= 2:
			lk = model.LikelihoodHigh
		case n == 1:
			lk = model.LikelihoodModerate
		}
		conds = append(conds, model.ConditionMatch{Name: c.Name, Likelihood: lk, Rationale: c.Rationale})
		overlap = append(overlap, n)
	}
	idx := make([]int, len(conds))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return overlap[idx[i]] > overlap[idx[j]] })
	ranked := make([]model.ConditionMatch, len(conds))
	for i, k := range idx {
		ranked[i] = conds[k]
	}

	return model.AssessmentResult{
		Symptom:         p.Symptom,
		Severity:        a.Severity,
		Conditions:      ranked,
		Urgency:         tier,
		Recommendations: p.Recommendations,
		RedFlags:        append([]string(nil), p.Warnings...),
		MatchedRedFlags: matched,
		GeneratedAt:     now,
	}
}

// associatedIn adds every affirmed profile symptom mentioned in text to have,
// keeping existing order and skipping the primary symptom itself.
func associatedIn(text string, p model.SymptomProfile, have []string) []string {
	out := append([]string(nil), have...)
	if text == "" || isNegativeAnswer(text) {
		return out
	}
	allowed := make(map[string]bool, len(p.AssociatedSymptoms))
	for _, s := range p.AssociatedSymptoms {
		allowed[normalize(s)] = true
	}
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s] = true
	}
	add := func(s string) {
		if allowed[s] && !seen[s] && s != string(p.Symptom) {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range p.AssociatedSymptoms {
		if ns := normalize(s); mentions(text, ns) {
			add(ns)
		}
	}
	phrases := make([]string, 0, len(symptomSynonyms))
	for k := range symptomSynonyms {
		phrases = append(phrases, k)
	}
	sort.Strings(phrases)
	for _, ph := range phrases {
		if mentions(text, ph) {
			add(symptomSynonyms[ph])
		}
	}
	return out
}

func isNegativeAnswer(text string) bool {
	for _, n := range negativeAnswers {
		if text == n {
			return true
		}
	}
	return false
}

var (
	durationRe = regexp.MustCompile(`\b(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|few|couple(?: of)?) ?(hours?|hrs?|days?|weeks?|months?|years?)\b`)
	scaleRe    = regexp.MustCompile(`\b(10|[1-9])\b`)
	numberRe   = regexp.MustCompile(`\b(\d{1,3})\b`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "few": 3, "couple": 2, "couple of": 2,
}

// parseDurationDays converts "3 days", "two weeks", "since yesterday" and
// similar to whole days. Hours count as zero days.
func parseDurationDays(text string) (int, bool) {
	if m := durationRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = numberWords[m[1]]
		}
		unit := m[2]
		switch {
		case strings.HasPrefix(unit, "h"):
			return 0, true
		case strings.HasPrefix(unit, "d"):
			return n, true
		case strings.HasPrefix(unit, "w"):
			return 7 * n, true
		case strings.HasPrefix(unit, "m"):
			return 30 * n, true
		case strings.HasPrefix(unit, "y"):
			return 365 * n, true
		}
	}
	switch {
	case containsPhrase(text, "day before yesterday"):
		return 2, true
	case containsPhrase(text, "yesterday"), containsPhrase(text, "last night"):
		return 1, true
	case containsPhrase(text, "today"), containsPhrase(text, "this morning"), containsPhrase(text, "since morning"), containsPhrase(text, "just now"):
		return 0, true
	case containsPhrase(text, "a week"), containsPhrase(text, "last week"):
		return 7, true
	}
	return 0, false
}

func parseSeverity(text string) (model.Severity, bool) {
	if sev, ok := severityFromWords(text); ok {
		return sev, true
	}
	m := scaleRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	n, _ := strconv.Atoi(m[1])
	switch {
	case n >= 8:
		return model.SeveritySevere, true
	case n >= 4:
		return model.SeverityModerate, true
	}
	return model.SeverityMild, true
}

// severityFromWords checks the negated-mild phrases first so "not bad" never
// reaches the moderate bucket through "bad".
func severityFromWords(text string) (model.Severity, bool) {
	buckets := []struct {
		words []string
		sev   model.Severity
	}{
		{mildNegations, model.SeverityMild},
		{severeWords, model.SeveritySevere},
		{moderateWords, model.SeverityModerate},
		{mildWords, model.SeverityMild},
	}
	for _, b := range buckets {
		for _, w := range b.words {
			if containsPhrase(text, w) {
				return b.sev, true
			}
		}
	}
	return "", false
}

func parseAgeAnswer(text string) (int, bool) {
	if e, ok := extractAge(text); ok {
		n, _ := strconv.Atoi(e.Value)
		return n, true
	}
	m := numberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	if n <= 0 || n > 120 {
		return 0, false
	}
	return n, true
}

func parseGender(text string) (string, bool) {
	for _, w := range strings.Fields(text) {
		if g, ok := genderWords[w]; ok {
			return g, true
		}
	}
	return "", false
}
