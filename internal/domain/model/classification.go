package model

// Intent is the recognised purpose of a user utterance.
type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentFarewell      Intent = "farewell"
	IntentThanks        Intent = "thanks"
	IntentSymptomReport Intent = "symptom_report"
	IntentEmergency     Intent = "emergency"
	IntentRequestHuman  Intent = "request_human"
	IntentAppointment   Intent = "appointment"
	IntentMedication    Intent = "medication"
	IntentHealthInfo    Intent = "health_info"
	IntentCancel        Intent = "cancel"
	IntentUnknown       Intent = "unknown"

	// IntentAssessmentAnswer marks turns consumed by the assessment flow.
	IntentAssessmentAnswer Intent = "assessment_answer"
)

type EntityType string

const (
	EntitySymptom  EntityType = "symptom"
	EntityAge      EntityType = "age"
	EntityLocation EntityType = "location"
)

// Entity is a span of the (working language) text with a typed value.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies so callers can compare them.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// ClassificationSource records which stage produced the intent.
type ClassificationSource string

const (
	SourceSimilarity ClassificationSource = "similarity"
	SourceKeyword    ClassificationSource = "keyword"
	SourceFallback   ClassificationSource = "fallback"
	SourceAssessment ClassificationSource = "assessment"
)

type Classification struct {
	Intent         Intent
	Confidence     float64
	Entities       []Entity
	Sentiment      Sentiment
	Urgency        Urgency
	Language       Language
	NormalizedText string
	Source         ClassificationSource
}

// EntitiesOf filters entities by type preserving order.
func (c Classification) EntitiesOf(t EntityType) []Entity {
	var out []Entity
	for _, e := range c.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// IntentDefinition is one entry of the intent library used by the classifier.
type IntentDefinition struct {
	Intent   Intent   `yaml:"intent"`
	Examples []string `yaml:"examples"`
	Keywords []string `yaml:"keywords"`
}
