package usecase

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"health-triage/internal/domain/model"
)

type symptomTerm struct {
	phrase     string
	value      string
	confidence float64
}

// symptomVocabulary matches symptom mentions longest phrase first.
type symptomVocabulary struct {
	terms []symptomTerm
}

func newSymptomVocabulary(profiles []model.SymptomProfile) *symptomVocabulary {
	seen := map[string]bool{}
	var terms []symptomTerm
	add := func(phrase, value string, conf float64) {
		phrase = normalize(phrase)
		if phrase == "" || seen[phrase] {
			return
		}
		seen[phrase] = true
		terms = append(terms, symptomTerm{phrase: phrase, value: value, confidence: conf})
	}
	for _, p := range profiles {
		for _, kw := range p.Keywords {
			add(kw, string(p.Symptom), 0.9)
		}
	}
	for _, p := range profiles {
		for _, s := range p.AssociatedSymptoms {
			add(s, normalize(s), 0.7)
		}
	}
	for _, s := range genericSymptoms {
		add(s, normalize(s), 0.7)
	}
	sort.SliceStable(terms, func(i, j int) bool { return len(terms[i].phrase) > len(terms[j].phrase) })
	return &symptomVocabulary{terms: terms}
}

// canonical maps a free phrase to its vocabulary value.
func (v *symptomVocabulary) canonical(phrase string) (string, bool) {
	phrase = normalize(phrase)
	for _, t := range v.terms {
		if t.phrase == phrase {
			return t.value, true
		}
	}
	return "", false
}

func (v *symptomVocabulary) extract(normalized string) []model.Entity {
	padded := " " + normalized + " "
	covered := make([]bool, len(normalized))
	values := map[string]bool{}
	var out []model.Entity
	for _, t := range v.terms {
		needle := " " + t.phrase + " "
		for from := 0; ; {
			i := strings.Index(padded[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(t.phrase)
			from = start + 1
			if overlaps(covered, start, end) || negatedAt(normalized, start) {
				continue
			}
			for k := start; k < end; k++ {
				covered[k] = true
			}
			if values[t.value] {
				continue
			}
			values[t.value] = true
			out = append(out, model.Entity{Type: model.EntitySymptom, Value: t.value, Confidence: t.confidence, Start: start, End: end})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func overlaps(covered []bool, start, end int) bool {
	for k := start; k < end && k < len(covered); k++ {
		if covered[k] {
			return true
		}
	}
	return false
}

var (
	ageRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,3}) ?(?:years?|yrs?|yr) old\b`),
		regexp.MustCompile(`\bage(?: is)? (\d{1,3})\b`),
		regexp.MustCompile(`\baged (\d{1,3})\b`),
		regexp.MustCompile(`\b(\d{1,3}) ?(?:years?|yrs?)\b`),
	}
	locationRe = regexp.MustCompile(`\b(?:in|at|from|near)\s+(\p{Lu}[\p{L}]+(?:\s+\p{Lu}[\p{L}]+)*)`)
)

// stop words that look like place names at the start of a sentence
var notPlaces = map[string]bool{"I": true, "The": true, "My": true, "Night": true, "Morning": true, "Evening": true}

func extractAge(normalized string) (model.Entity, bool) {
	for i, re := range ageRes {
		m := re.FindStringSubmatchIndex(normalized)
		if m == nil {
			continue
		}
		// a bare "N years" is an age only outside duration phrasing
		if i == len(ageRes)-1 && durationContext(normalized, m[0], m[1]) {
			continue
		}
		n, err := strconv.Atoi(normalized[m[2]:m[3]])
		if err != nil || n <= 0 || n > 120 {
			continue
		}
		return model.Entity{Type: model.EntityAge, Value: strconv.Itoa(n), Confidence: 0.9, Start: m[0], End: m[1]}, true
	}
	return model.Entity{}, false
}

func durationContext(normalized string, start, end int) bool {
	before := strings.Fields(normalized[:start])
	if len(before) > 0 {
		switch before[len(before)-1] {
		case "for", "since", "past", "last", "about", "over":
			return true
		}
	}
	return strings.HasPrefix(strings.TrimSpace(normalized[end:]), "ago")
}

func extractLocations(working, normalized string) []model.Entity {
	var out []model.Entity
	for _, m := range locationRe.FindAllStringSubmatch(working, -1) {
		place := m[1]
		if notPlaces[strings.Fields(place)[0]] {
			continue
		}
		value := normalize(place)
		start := phraseIndex(normalized, value)
		if start < 0 {
			continue
		}
		out = append(out, model.Entity{Type: model.EntityLocation, Value: place, Confidence: 0.6, Start: start, End: start + len(value)})
	}
	return out
}

// extractEntities returns symptom, age and location entities. Offsets are
// byte offsets into normalized.
func extractEntities(working, normalized string, vocab *symptomVocabulary) []model.Entity {
	var out []model.Entity
	if vocab != nil {
		out = append(out, vocab.extract(normalized)...)
	}
	if age, ok := extractAge(normalized); ok {
		out = append(out, age)
	}
	out = append(out, extractLocations(working, normalized)...)
	return out
}
