package adapter

import (
	"context"

	"health-triage/internal/domain/model"
)

// LanguageService is the black-box detection / translation collaborator.
// Both calls are best effort; callers fall back on failure.
type LanguageService interface {
	Detect(ctx context.Context, text string) (model.Language, error)
	Translate(ctx context.Context, text string, from, to model.Language) (string, error)
}

// WorkerDirectory is the read-only view of human health workers.
type WorkerDirectory interface {
	ListWorkers(ctx context.Context) ([]model.HumanWorker, error)
}

// KnowledgeBase serves the static intent library and symptom profiles.
type KnowledgeBase interface {
	Intents() []model.IntentDefinition
	Profile(s model.Symptom) (model.SymptomProfile, bool)
	Profiles() []model.SymptomProfile
}

// TemplateBank serves localized reply templates. native is false when the
// English template was returned in place of a missing localisation.
type TemplateBank interface {
	Template(lang model.Language, key string) (tmpl string, native bool)
}
