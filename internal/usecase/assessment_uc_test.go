//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/infra/knowledge"
)

func newAssessment(t *testing.T) *assessmentUC {
	t.Helper()
	kb, err := knowledge.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	log := zerolog.Nop()
	return NewAssessmentUseCase(kb, 30*time.Minute, &log)
}

// runFlow starts an assessment and feeds answers until the flow completes.
func runFlow(t *testing.T, u *assessmentUC, sym model.Symptom, complaint string, answers ...string) (*model.SymptomAssessmentContext, *model.AssessmentResult) {
	t.Helper()
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	a, _, err := u.Start(sym, complaint, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, ans := range answers {
		out, err := u.Answer(a, ans, "", now.Add(time.Duration(i+1)*time.Minute))
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		a = out.Context
		if out.Result != nil {
			if i != len(answers)-1 {
				t.Fatalf("flow completed early at answer %d", i)
			}
			return a, out.Result
		}
	}
	return a, nil
}

func TestAssessment_FeverFlowSameDay(t *testing.T) {
	u := newAssessment(t)
	a, res := runFlow(t, u, model.SymptomFever, "I have had fever since yesterday",
		"2 days", "moderate", "chills and body ache", "30", "no")
	if res == nil {
		t.Fatal("flow did not complete")
	}
	if !a.Completed || a.StepIndex != a.FlowLength {
		t.Fatalf("context not complete: %+v", a)
	}
	if a.DurationDays != 2 || a.Duration != "2 days" || a.PatientAge != 30 {
		t.Fatalf("parsed fields wrong: %+v", a)
	}
	if res.Urgency != model.TierSameDay {
		t.Fatalf("urgency %s, want same_day", res.Urgency)
	}
	if len(res.Conditions) == 0 || res.Conditions[0].Name != "Viral fever" || res.Conditions[0].Likelihood != model.LikelihoodModerate {
		t.Fatalf("ranking wrong: %+v", res.Conditions)
	}
	if len(res.RedFlags) == 0 {
		t.Fatal("warning list must never be empty")
	}
	if len(a.Answers) != a.FlowLength {
		t.Fatalf("answers recorded %d, want %d", len(a.Answers), a.FlowLength)
	}
}

func TestAssessment_RedFlagForcesImmediate(t *testing.T) {
	u := newAssessment(t)
	_, res := runFlow(t, u, model.SymptomFever, "fever",
		"3 days", "mild", "headache and a stiff neck", "20", "no")
	if res == nil || res.Urgency != model.TierImmediate {
		t.Fatalf("expected immediate for red flag, got %+v", res)
	}
	if len(res.MatchedRedFlags) != 1 || res.MatchedRedFlags[0] != "stiff neck" {
		t.Fatalf("matched red flags: %v", res.MatchedRedFlags)
	}
}

func TestAssessment_NegatedRedFlagIgnored(t *testing.T) {
	u := newAssessment(t)
	_, res := runFlow(t, u, model.SymptomFever, "fever",
		"today", "mild", "no stiff neck, only headache", "20", "no")
	if res.Urgency != model.TierHomeCare {
		t.Fatalf("negated red flag should not escalate urgency, got %s (%v)", res.Urgency, res.MatchedRedFlags)
	}
}

func TestAssessment_SevereIsImmediate(t *testing.T) {
	u := newAssessment(t)
	_, res := runFlow(t, u, model.SymptomDiarrhea, "loose motions",
		"since this morning", "severe, 10 times", "vomiting", "street food")
	if res.Urgency != model.TierImmediate {
		t.Fatalf("severe should be immediate, got %s", res.Urgency)
	}
	if res.Conditions[0].Name != "Gastroenteritis" && res.Conditions[0].Name != "Food poisoning" {
		t.Fatalf("unexpected top condition %s", res.Conditions[0].Name)
	}
}

func TestAssessment_AnswerAfterCompleteFails(t *testing.T) {
	u := newAssessment(t)
	a, res := runFlow(t, u, model.SymptomDiarrhea, "diarrhea", "1 day", "mild", "none", "no")
	if res == nil {
		t.Fatal("expected completion")
	}
	if _, err := u.Answer(a, "again", "", time.Now()); !errors.Is(err, domain.ErrAssessmentComplete) {
		t.Fatalf("expected ErrAssessmentComplete, got %v", err)
	}
}

func TestAssessment_AnswerDoesNotMutateInput(t *testing.T) {
	u := newAssessment(t)
	a, _, _ := u.Start(model.SymptomCough, "cough", time.Now())
	out, err := u.Answer(a, "a week", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if a.StepIndex != 0 || len(a.Answers) != 0 {
		t.Fatalf("input mutated: %+v", a)
	}
	if out.Context.StepIndex != 1 || out.Next == nil || out.Ack != AckDuration {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestAssessment_StartSeedsFromComplaint(t *testing.T) {
	u := newAssessment(t)
	a, q, err := u.Start(model.SymptomFever, "very high fever for 3 days with chills", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if q.Type != model.QuestionDuration {
		t.Fatalf("first question %s", q.Type)
	}
	if a.Severity != model.SeveritySevere || a.DurationDays != 3 || !a.HasAssociated("chills") {
		t.Fatalf("complaint not seeded: %+v", a)
	}
	if _, _, err := u.Start(model.Symptom("backache"), "x", time.Now()); !errors.Is(err, domain.ErrUnknownSymptom) {
		t.Fatalf("expected ErrUnknownSymptom, got %v", err)
	}
}

func TestAssessment_Detect(t *testing.T) {
	u := newAssessment(t)
	c := newClassifier(t, &fakeLang{})
	cases := map[string]model.Symptom{
		"I have had a cough for days": model.SymptomCough,
		"my tummy hurts":              model.SymptomStomachPain,
		"there is a rash on my arm":   model.SymptomSkinRash,
		"mujhe bukhar hai":            model.SymptomFever,
		"my back hurts after lifting": "",
	}
	for text, want := range cases {
		got, ok := u.Detect(c.Classify(context.Background(), text, model.LangEnglish, nil))
		if want == "" {
			if ok {
				t.Errorf("%q: unexpected symptom %s", text, got)
			}
			continue
		}
		if !ok || got != want {
			t.Errorf("%q: detected %q, want %q", text, got, want)
		}
	}
}

func TestAssessment_Stale(t *testing.T) {
	u := newAssessment(t)
	now := time.Now()
	a, _, _ := u.Start(model.SymptomFever, "fever", now)
	if u.Stale(a, now.Add(29*time.Minute)) {
		t.Fatal("fresh assessment reported stale")
	}
	if !u.Stale(a, now.Add(31*time.Minute)) {
		t.Fatal("idle assessment not reported stale")
	}
	if u.Stale(nil, now) {
		t.Fatal("nil assessment cannot be stale")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]model.Severity{
		"not bad":          model.SeverityMild,
		"not too bad":      model.SeverityMild,
		"very bad":         model.SeveritySevere,
		"unbearable":       model.SeveritySevere,
		"very high":        model.SeveritySevere,
		"very hot":         model.SeverityModerate,
		"with chills":      model.SeverityModerate,
		"quite bad":        model.SeverityModerate,
		"mild":             model.SeverityMild,
		"slight":           model.SeverityMild,
		"8":                model.SeveritySevere,
		"i would say 5 10": model.SeverityModerate,
		"2":                model.SeverityMild,
	}
	for in, want := range cases {
		got, ok := parseSeverity(normalize(in))
		if !ok || got != want {
			t.Errorf("%q: %q, want %q", in, got, want)
		}
	}
	if _, ok := parseSeverity("hmm"); ok {
		t.Error("unparseable severity accepted")
	}
}

func TestParseDurationDays(t *testing.T) {
	cases := map[string]int{
		"3 days":               3,
		"two weeks":            14,
		"since yesterday":      1,
		"day before yesterday": 2,
		"a few days":           3,
		"since this morning":   0,
		"couple of days":       2,
		"6 hours":              0,
		"a month":              30,
	}
	for in, want := range cases {
		got, ok := parseDurationDays(normalize(in))
		if !ok || got != want {
			t.Errorf("%q: %d (%v), want %d", in, got, ok, want)
		}
	}
	if _, ok := parseDurationDays("dont know"); ok {
		t.Error("unparseable duration accepted")
	}
}

func TestAssessment_StepBeyondShortenedFlowCompletes(t *testing.T) {
	u := newAssessment(t)
	a, _, _ := u.Start(model.SymptomFever, "fever", time.Now())
	// saved before the fever flow lost steps
	a.FlowLength = 9
	a.StepIndex = 7

	out, err := u.Answer(a, "yes", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if out.Result == nil || out.Next != nil {
		t.Fatalf("expected a result, got %+v", out)
	}
	if !out.Context.Completed || !out.Context.IsComplete() {
		t.Fatalf("context not complete: %+v", out.Context)
	}
}

func TestAssessment_AnswerKeepsRawAndParsesWorking(t *testing.T) {
	u := newAssessment(t)
	a, _, _ := u.Start(model.SymptomFever, "fever", time.Now())
	out, err := u.Answer(a, " तीन दिन ", "three days", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	rec := out.Context.Answers[0]
	if rec.Answer != "तीन दिन" || rec.Parsed != "three days" {
		t.Fatalf("record %+v", rec)
	}
	if out.Context.Duration != "तीन दिन" || out.Context.DurationDays != 3 {
		t.Fatalf("duration %q days %d", out.Context.Duration, out.Context.DurationDays)
	}
}
