// Package language implements the Language Service: a script-based
// detector and translators for the working-language round trip.
package language

import (
	"errors"
	"unicode"

	"health-triage/internal/domain/model"
)

// ErrUndetected is returned when no letter in the text belongs to a
// script the assistant serves.
var ErrUndetected = errors.New("language not detected")

// Devanagari is shared by Hindi and Marathi; Hindi is reported because it
// is the larger population. Callers that know better pass a language hint.
var scripts = []struct {
	table *unicode.RangeTable
	lang  model.Language
}{
	{unicode.Devanagari, model.LangHindi},
	{unicode.Bengali, model.LangBengali},
	{unicode.Tamil, model.LangTamil},
	{unicode.Telugu, model.LangTelugu},
	{unicode.Gujarati, model.LangGujarati},
	{unicode.Kannada, model.LangKannada},
	{unicode.Malayalam, model.LangMalayalam},
	{unicode.Gurmukhi, model.LangPunjabi},
	{unicode.Latin, model.LangEnglish},
}

// DetectScript returns the language whose script covers the most letters.
// Combining marks count toward their script. Ties go to the earlier entry,
// so an Indic script wins over Latin.
func DetectScript(text string) (model.Language, error) {
	counts := make([]int, len(scripts))
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		for i, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}
	best, bestN := -1, 0
	for i, n := range counts {
		if n > bestN {
			best, bestN = i, n
		}
	}
	if best < 0 {
		return "", ErrUndetected
	}
	return scripts[best].lang, nil
}
