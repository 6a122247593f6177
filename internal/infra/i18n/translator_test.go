//go:build !integration

package i18n

import (
	"testing"
	"testing/fstest"

	"health-triage/internal/domain/model"
)

func TestBank_EmbeddedLocalesLoad(t *testing.T) {
	b, err := NewBank(LocalesFS)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	langs := b.Languages()
	if len(langs) < 2 || langs[0] != model.LangEnglish {
		t.Fatalf("expected en first plus native locales, got %v", langs)
	}
}

func TestBank_Template(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en.yaml": {Data: []byte("greeting: Hello\nwelcome_user: Hello %s\n")},
		"locales/hi.yaml": {Data: []byte("greeting: नमस्ते\n")},
	}
	b, err := NewBank(fsys)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}

	t.Run("should use native template", func(t *testing.T) {
		got, native := b.Template(model.LangHindi, "greeting")
		if got != "नमस्ते" || !native {
			t.Errorf("got %q native=%v", got, native)
		}
	})

	t.Run("should fall back to English and flag it", func(t *testing.T) {
		got, native := b.Template(model.LangHindi, "welcome_user")
		if got != "Hello %s" || native {
			t.Errorf("got %q native=%v", got, native)
		}
		if _, native := b.Template(model.LangTamil, "greeting"); native {
			t.Error("tamil has no locale file so nothing is native")
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got := b.T(model.LangEnglish, "nonexistent_key"); got != "nonexistent_key" {
			t.Errorf("wanted key back, got %q", got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got := b.T(model.LangEnglish, "welcome_user", "Asha"); got != "Hello Asha" {
			t.Errorf("got %q", got)
		}
	})
}

func TestBank_Validation(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"missing english": {"locales/hi.yaml": {Data: []byte("greeting: x\n")}},
		"extra key":       {"locales/en.yaml": {Data: []byte("a: x\n")}, "locales/hi.yaml": {Data: []byte("b: y\n")}},
		"placeholders":    {"locales/en.yaml": {Data: []byte("a: \"%s\"\n")}, "locales/hi.yaml": {Data: []byte("a: y\n")}},
		"unknown locale":  {"locales/en.yaml": {Data: []byte("a: x\n")}, "locales/fr.yaml": {Data: []byte("a: y\n")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewBank(fsys); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
