package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
)

//go:embed locales
var LocalesFS embed.FS

var _ adapter.TemplateBank = (*Bank)(nil)

// Bank holds reply templates per language. English is mandatory; other
// locales may cover any subset of its keys.
type Bank struct {
	byLang map[model.Language]map[string]string
}

// NewBank loads every locales/<lang>.yaml from fsys. Unknown language files
// are rejected so a typo cannot silently disable a locale.
func NewBank(fsys fs.FS) (*Bank, error) {
	entries, err := fs.ReadDir(fsys, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	b := &Bank{byLang: make(map[model.Language]map[string]string, len(entries))}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		code := strings.TrimSuffix(e.Name(), ".yaml")
		lang, err := model.ParseLanguage(code)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		data, err := fs.ReadFile(fsys, path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read translation file %s: %w", e.Name(), err)
		}
		m, err := parseLocale(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse translation file %s: %w", e.Name(), err)
		}
		b.byLang[lang] = m
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func parseLocale(data []byte) (map[string]string, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, err
	}
	return translations, nil
}

func (b *Bank) validate() error {
	en, ok := b.byLang[model.LangEnglish]
	if !ok {
		return fmt.Errorf("locales: %s.yaml is required", model.LangEnglish)
	}
	for lang, m := range b.byLang {
		for k, v := range m {
			ref, ok := en[k]
			if !ok {
				return fmt.Errorf("locale %s: key %q missing from English", lang, k)
			}
			if strings.Count(v, "%s") != strings.Count(ref, "%s") {
				return fmt.Errorf("locale %s: key %q placeholder count differs from English", lang, k)
			}
		}
	}
	return nil
}

// Template returns the template for key in lang. native is false when the
// English template was substituted, so the caller should translate it.
func (b *Bank) Template(lang model.Language, key string) (string, bool) {
	if m, ok := b.byLang[lang]; ok {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	if v, ok := b.byLang[model.LangEnglish][key]; ok {
		return v, lang == model.LangEnglish
	}
	return key, lang == model.LangEnglish
}

// T renders key in lang without any translation fallback.
func (b *Bank) T(lang model.Language, key string, args ...interface{}) string {
	format, _ := b.Template(lang, key)
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Languages lists the locales with a native template file.
func (b *Bank) Languages() []model.Language {
	out := make([]model.Language, 0, len(b.byLang))
	for _, l := range model.SupportedLanguages() {
		if _, ok := b.byLang[l]; ok {
			out = append(out, l)
		}
	}
	return out
}
