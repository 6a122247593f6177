//go:build !integration

package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/infra/db/memory"
	"health-triage/internal/infra/i18n"
	"health-triage/internal/infra/knowledge"
	"health-triage/internal/infra/lock"
)

// ---- Fakes ----

// fakeLang translates through a fixed phrasebook into English and tags
// everything else with the target language so tests can see it happened.
type fakeLang struct {
	detect        model.Language
	detectErr     error
	failTranslate bool
	phrasebook    map[string]string
	translations  int32
}

func (f *fakeLang) Detect(ctx context.Context, text string) (model.Language, error) {
	if f.detectErr != nil {
		return "", f.detectErr
	}
	if f.detect == "" {
		return model.LangEnglish, nil
	}
	return f.detect, nil
}

func (f *fakeLang) Translate(ctx context.Context, text string, from, to model.Language) (string, error) {
	atomic.AddInt32(&f.translations, 1)
	if f.failTranslate {
		return "", errors.New("translator down")
	}
	if to == model.LangEnglish {
		if en, ok := f.phrasebook[text]; ok {
			return en, nil
		}
		return text, nil
	}
	return "[" + string(to) + "] " + text, nil
}

type fakeGen struct {
	mu      sync.Mutex
	text    string
	err     error
	calls   int
	prompts []adapter.Prompt

	started chan struct{}
	block   chan struct{}
}

func (f *fakeGen) Generate(ctx context.Context, preferred string, p adapter.Prompt, opts adapter.GenerateOptions) (adapter.Generation, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, p)
	text, err, started, block := f.text, f.err, f.started, f.block
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return adapter.Generation{}, err
	}
	return adapter.Generation{Text: text, ModelUsed: "test-model", AttemptCount: 1}, nil
}

func (f *fakeGen) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticWorkers struct {
	workers []model.HumanWorker
	err     error
}

func (s staticWorkers) ListWorkers(ctx context.Context) ([]model.HumanWorker, error) {
	return s.workers, s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---- Harness ----

type harness struct {
	kb      *knowledge.Base
	bank    *i18n.Bank
	repo    *memory.SessionRepo
	lang    *fakeLang
	gen     *fakeGen
	clock   *fakeClock
	workers staticWorkers
	uc      *sessionUC
}

var englishWorker = model.HumanWorker{ID: "w1", Name: "Asha", Languages: []model.Language{model.LangEnglish}, Online: true, Capacity: 2}

func newHarness(t *testing.T, workers ...model.HumanWorker) *harness {
	t.Helper()
	kb, err := knowledge.LoadEmbedded()
	if err != nil {
		t.Fatalf("knowledge: %v", err)
	}
	bank, err := i18n.NewBank(i18n.LocalesFS)
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	h := &harness{
		kb:      kb,
		bank:    bank,
		repo:    memory.NewSessionRepo(),
		lang:    &fakeLang{phrasebook: map[string]string{}},
		gen:     &fakeGen{text: "[ANSWER]Drink clean water.[/ANSWER][ADVICE]Use a mosquito net.[/ADVICE]"},
		clock:   &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		workers: staticWorkers{workers: workers},
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	log := zerolog.Nop()
	cls := NewClassifierUseCase(h.kb, h.lang, &log)
	as := NewAssessmentUseCase(h.kb, 30*time.Minute, &log)
	esc := NewEscalationUseCase(h.workers, &log)
	h.uc = NewSessionUseCase(h.repo, lock.NewLocal(), cls, as, esc, h.gen, h.lang, h.bank, nil,
		SessionOptions{PreferredModel: "test-model", Now: h.clock.Now}, &log)
}

func (h *harness) template(lang model.Language, key string) string {
	s, _ := h.bank.Template(lang, key)
	return s
}

func (h *harness) turn(t *testing.T, sessionID, text string) *TurnResponse {
	t.Helper()
	resp, err := h.uc.HandleTurn(context.Background(), TurnRequest{SessionID: sessionID, UserID: "u1", Text: text, Language: "en"})
	if err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
	return resp
}

func contains(haystack, needle string) bool { return strings.Contains(haystack, needle) }
