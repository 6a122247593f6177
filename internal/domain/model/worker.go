package model

// HumanWorker is a health worker who can take over an escalated session.
type HumanWorker struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Languages   []Language `json:"languages"`
	Online      bool       `json:"online"`
	CurrentLoad int        `json:"current_load"`
	Capacity    int        `json:"capacity"`
}

func (w HumanWorker) Speaks(l Language) bool {
	for _, v := range w.Languages {
		if v == l {
			return true
		}
	}
	return false
}

// HasCapacity is true while the worker's load is strictly below capacity.
func (w HumanWorker) HasCapacity() bool { return w.CurrentLoad < w.Capacity }

type EscalationReason string

const (
	ReasonNone            EscalationReason = ""
	ReasonCriticalUrgency EscalationReason = "critical_urgency"
	ReasonUserRequest     EscalationReason = "user_request"
	ReasonLowConfidence   EscalationReason = "low_confidence"
	ReasonRepeatedUnknown EscalationReason = "repeated_unknown"
)

type EscalationDecision struct {
	Escalate bool
	Reason   EscalationReason
	// Worker is nil when no one is free; the hand-off is then queued.
	Worker *HumanWorker
}
