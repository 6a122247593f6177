// Package knowledge loads the static intent library and symptom profiles.
package knowledge

import (
	"embed"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
)

//go:embed data/*.yaml
var DataFS embed.FS

const (
	MinFlowLength = 4
	MaxFlowLength = 6
)

var _ adapter.KnowledgeBase = (*Base)(nil)

type Base struct {
	intents  []model.IntentDefinition
	profiles []model.SymptomProfile
	bySym    map[model.Symptom]int
}

// Load reads data/intents.yaml and data/profiles.yaml from fsys and validates them.
func Load(fsys fs.FS) (*Base, error) {
	var b Base
	if err := readYAML(fsys, "data/intents.yaml", &b.intents); err != nil {
		return nil, err
	}
	if err := readYAML(fsys, "data/profiles.yaml", &b.profiles); err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	b.bySym = make(map[model.Symptom]int, len(b.profiles))
	for i, p := range b.profiles {
		b.bySym[p.Symptom] = i
	}
	return &b, nil
}

// LoadEmbedded loads the knowledge compiled into the binary.
func LoadEmbedded() (*Base, error) { return Load(DataFS) }

func readYAML(fsys fs.FS, name string, dst any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("knowledge: read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("knowledge: parse %s: %w", name, err)
	}
	return nil
}

var knownIntents = map[model.Intent]bool{
	model.IntentGreeting: true, model.IntentFarewell: true, model.IntentThanks: true,
	model.IntentSymptomReport: true, model.IntentEmergency: true, model.IntentRequestHuman: true,
	model.IntentAppointment: true, model.IntentMedication: true, model.IntentHealthInfo: true,
	model.IntentCancel: true,
}

func (b *Base) validate() error {
	if len(b.intents) == 0 {
		return fmt.Errorf("knowledge: empty intent library")
	}
	seenIntent := map[model.Intent]bool{}
	for _, d := range b.intents {
		if !knownIntents[d.Intent] {
			return fmt.Errorf("knowledge: unknown intent %q", d.Intent)
		}
		if seenIntent[d.Intent] {
			return fmt.Errorf("knowledge: duplicate intent %q", d.Intent)
		}
		seenIntent[d.Intent] = true
		if len(d.Examples) == 0 {
			return fmt.Errorf("knowledge: intent %q has no examples", d.Intent)
		}
	}

	seenSym := map[model.Symptom]bool{}
	for _, p := range b.profiles {
		if p.Symptom == "" || seenSym[p.Symptom] {
			return fmt.Errorf("knowledge: missing or duplicate symptom %q", p.Symptom)
		}
		seenSym[p.Symptom] = true
		if n := len(p.Flow); n < MinFlowLength || n > MaxFlowLength {
			return fmt.Errorf("knowledge: %s flow has %d steps, want %d-%d", p.Symptom, n, MinFlowLength, MaxFlowLength)
		}
		for i, q := range p.Flow {
			if !model.KnownQuestionType(q.Type) {
				return fmt.Errorf("knowledge: %s step %d has unknown question type %q", p.Symptom, i, q.Type)
			}
			if q.Prompt == "" {
				return fmt.Errorf("knowledge: %s step %d has no prompt", p.Symptom, i)
			}
		}
		if len(p.Keywords) == 0 {
			return fmt.Errorf("knowledge: %s has no keywords", p.Symptom)
		}
		if len(p.Warnings) == 0 {
			return fmt.Errorf("knowledge: %s has no warning list", p.Symptom)
		}
	}
	return nil
}

func (b *Base) Intents() []model.IntentDefinition { return b.intents }

func (b *Base) Profile(s model.Symptom) (model.SymptomProfile, bool) {
	i, ok := b.bySym[s]
	if !ok {
		return model.SymptomProfile{}, false
	}
	return b.profiles[i], true
}

func (b *Base) Profiles() []model.SymptomProfile { return b.profiles }
