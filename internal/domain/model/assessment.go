package model

import "time"

// Symptom is the closed vocabulary of primary symptoms with a question flow.
type Symptom string

const (
	SymptomFever       Symptom = "fever"
	SymptomHeadache    Symptom = "headache"
	SymptomCough       Symptom = "cough"
	SymptomStomachPain Symptom = "stomach_pain"
	SymptomDiarrhea    Symptom = "diarrhea"
	SymptomSkinRash    Symptom = "skin_rash"
)

type QuestionType string

const (
	QuestionDuration   QuestionType = "duration"
	QuestionSeverity   QuestionType = "severity"
	QuestionAssociated QuestionType = "associated_symptoms"
	QuestionLocation   QuestionType = "body_location"
	QuestionTriggers   QuestionType = "triggers"
	QuestionAge        QuestionType = "patient_age"
)

// KnownQuestionType reports whether the flow engine can parse the answer type.
func KnownQuestionType(q QuestionType) bool {
	switch q {
	case QuestionDuration, QuestionSeverity, QuestionAssociated, QuestionLocation, QuestionTriggers, QuestionAge:
		return true
	}
	return false
}

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// UrgencyTier is the care recommendation of a completed assessment.
type UrgencyTier string

const (
	TierImmediate UrgencyTier = "immediate"
	TierSameDay   UrgencyTier = "same_day"
	TierFewDays   UrgencyTier = "few_days"
	TierHomeCare  UrgencyTier = "home_care"
)

type Likelihood string

const (
	LikelihoodHigh     Likelihood = "high"
	LikelihoodModerate Likelihood = "moderate"
	LikelihoodLow      Likelihood = "low"
)

type Question struct {
	Type    QuestionType `yaml:"type" json:"type"`
	Prompt  string       `yaml:"prompt" json:"prompt"`
	Options []string     `yaml:"options" json:"options,omitempty"`
}

type ConditionProfile struct {
	Name       string   `yaml:"name"`
	Indicators []string `yaml:"indicators"`
	Rationale  string   `yaml:"rationale"`
}

type Recommendations struct {
	Immediate    []string `yaml:"immediate" json:"immediate,omitempty"`
	Preventive   []string `yaml:"preventive" json:"preventive,omitempty"`
	SeeDoctorIf  []string `yaml:"see_doctor_if" json:"see_doctor_if,omitempty"`
	HomeRemedies []string `yaml:"home_remedies" json:"home_remedies,omitempty"`
}

// SymptomProfile is the static knowledge driving one assessment flow.
type SymptomProfile struct {
	Symptom            Symptom            `yaml:"symptom"`
	Keywords           []string           `yaml:"keywords"`
	Flow               []Question         `yaml:"flow"`
	AssociatedSymptoms []string           `yaml:"associated_symptoms"`
	RedFlags           []string           `yaml:"red_flags"`
	Warnings           []string           `yaml:"warnings"`
	Conditions         []ConditionProfile `yaml:"conditions"`
	Recommendations    Recommendations    `yaml:"recommendations"`
}

type AnswerRecord struct {
	Question QuestionType `json:"question"`
	// Answer is the user's text as submitted; Parsed is the normalised
	// English form the flow matched against.
	Answer string    `json:"answer"`
	Parsed string    `json:"parsed,omitempty"`
	At     time.Time `json:"at"`
}

// SymptomAssessmentContext is the in-progress state of a question flow.
// StepIndex only grows and never exceeds FlowLength.
type SymptomAssessmentContext struct {
	PrimarySymptom     Symptom        `json:"primary_symptom"`
	InitialComplaint   string         `json:"initial_complaint,omitempty"`
	Duration           string         `json:"duration,omitempty"`
	DurationDays       int            `json:"duration_days,omitempty"`
	Severity           Severity       `json:"severity,omitempty"`
	AssociatedSymptoms []string       `json:"associated_symptoms,omitempty"`
	BodyLocation       string         `json:"body_location,omitempty"`
	Triggers           string         `json:"triggers,omitempty"`
	PatientAge         int            `json:"patient_age,omitempty"`
	PatientGender      string         `json:"patient_gender,omitempty"`
	StepIndex          int            `json:"step_index"`
	FlowLength         int            `json:"flow_length"`
	Answers            []AnswerRecord `json:"answers,omitempty"`
	Completed          bool           `json:"completed"`
	StartedAt          time.Time      `json:"started_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (a *SymptomAssessmentContext) IsComplete() bool {
	return a != nil && a.StepIndex >= a.FlowLength
}

// HasAssociated reports whether s was already recorded.
func (a *SymptomAssessmentContext) HasAssociated(s string) bool {
	for _, v := range a.AssociatedSymptoms {
		if v == s {
			return true
		}
	}
	return false
}

func (a *SymptomAssessmentContext) Clone() *SymptomAssessmentContext {
	if a == nil {
		return nil
	}
	cp := *a
	cp.AssociatedSymptoms = append([]string(nil), a.AssociatedSymptoms...)
	cp.Answers = append([]AnswerRecord(nil), a.Answers...)
	return &cp
}

type ConditionMatch struct {
	Name       string     `json:"name"`
	Likelihood Likelihood `json:"likelihood"`
	Rationale  string     `json:"rationale"`
}

// AssessmentResult is derived from a completed assessment and never mutated.
type AssessmentResult struct {
	Symptom         Symptom          `json:"symptom"`
	Severity        Severity         `json:"severity,omitempty"`
	Conditions      []ConditionMatch `json:"conditions"`
	Urgency         UrgencyTier      `json:"urgency"`
	Recommendations Recommendations  `json:"recommendations"`
	RedFlags        []string         `json:"red_flags"`
	MatchedRedFlags []string         `json:"matched_red_flags,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
