package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Lower(language.Und)

// normalize applies NFKC, Unicode lower-casing, drops apostrophes so
// "can't" becomes "cant", turns other punctuation into spaces and collapses
// whitespace.
func normalize(s string) string {
	s = folder.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case r == '\'' || r == '’' || r == '`':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// phraseIndex returns the byte offset of phrase in text matched on word
// boundaries, or -1. Both must already be normalized.
func phraseIndex(text, phrase string) int {
	if phrase == "" || text == "" {
		return -1
	}
	// the leading pad shifts the match by one, so i is already the offset in text
	return strings.Index(" "+text+" ", " "+phrase+" ")
}

func containsPhrase(text, phrase string) bool { return phraseIndex(text, phrase) >= 0 }

var negators = map[string]bool{
	"no": true, "not": true, "without": true, "never": true, "dont": true,
	"doesnt": true, "didnt": true, "isnt": true, "nor": true, "denies": true,
}

// negatedAt reports whether one of the two words before byte offset idx is a
// negator ("no stiff neck", "not having chest pain").
func negatedAt(text string, idx int) bool {
	if idx <= 0 {
		return false
	}
	before := strings.Fields(text[:idx])
	for i := len(before) - 1; i >= 0 && i >= len(before)-2; i-- {
		if negators[before[i]] {
			return true
		}
	}
	return false
}

// mentions reports an affirmed (non-negated) occurrence of phrase.
func mentions(text, phrase string) bool {
	padded := " " + text + " "
	needle := " " + phrase + " "
	start := 0
	for {
		i := strings.Index(padded[start:], needle)
		if i < 0 {
			return false
		}
		pos := start + i
		if !negatedAt(text, pos) {
			return true
		}
		start = pos + 1
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// diceTokens is the Sørensen–Dice coefficient over word sets.
func diceTokens(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	sa := make(map[string]struct{}, len(a))
	for _, t := range a {
		sa[t] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, t := range b {
		sb[t] = struct{}{}
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(sa)+len(sb))
}

// bigrams returns the multiset of rune bigrams of s.
func bigrams(s string) map[string]int {
	r := []rune(s)
	out := make(map[string]int, len(r))
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

func diceBigrams(a, b map[string]int) float64 {
	na, nb := 0, 0
	for _, c := range a {
		na += c
	}
	for _, c := range b {
		nb += c
	}
	if na == 0 && nb == 0 {
		return 1
	}
	inter := 0
	for g, ca := range a {
		if cb, ok := b[g]; ok {
			inter += min(ca, cb)
		}
	}
	return 2 * float64(inter) / float64(na+nb)
}
