package model

import (
	"fmt"
	"strings"

	"health-triage/internal/domain"

	"golang.org/x/text/language"
)

// Language is an ISO 639-1 code from the closed set the assistant serves.
type Language string

const (
	LangEnglish   Language = "en"
	LangHindi     Language = "hi"
	LangBengali   Language = "bn"
	LangTamil     Language = "ta"
	LangTelugu    Language = "te"
	LangMarathi   Language = "mr"
	LangGujarati  Language = "gu"
	LangKannada   Language = "kn"
	LangMalayalam Language = "ml"
	LangPunjabi   Language = "pa"
)

// WorkingLanguage is the language classification and prompting happen in.
const WorkingLanguage = LangEnglish

var languageNames = map[Language]string{
	LangEnglish:   "English",
	LangHindi:     "Hindi",
	LangBengali:   "Bengali",
	LangTamil:     "Tamil",
	LangTelugu:    "Telugu",
	LangMarathi:   "Marathi",
	LangGujarati:  "Gujarati",
	LangKannada:   "Kannada",
	LangMalayalam: "Malayalam",
	LangPunjabi:   "Punjabi",
}

// SupportedLanguages returns the served languages in a stable order.
func SupportedLanguages() []Language {
	return []Language{
		LangEnglish, LangHindi, LangBengali, LangTamil, LangTelugu,
		LangMarathi, LangGujarati, LangKannada, LangMalayalam, LangPunjabi,
	}
}

// ParseLanguage canonicalises a BCP 47 tag ("hi-IN", "HIN", "en_US") to its
// base language and rejects anything outside the supported set.
func ParseLanguage(s string) (Language, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))
	if raw == "" {
		return "", fmt.Errorf("%w: empty language", domain.ErrUnsupportedLanguage)
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, s)
	}
	base, _ := tag.Base()
	l := Language(base.String())
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, s)
	}
	return l, nil
}

func (l Language) Valid() bool {
	_, ok := languageNames[l]
	return ok
}

// Name is the English display name, used when prompting the model.
func (l Language) Name() string {
	if n, ok := languageNames[l]; ok {
		return n
	}
	return string(l)
}

func (l Language) String() string { return string(l) }
