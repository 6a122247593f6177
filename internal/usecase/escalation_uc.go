package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/infra/logging"
)

const (
	LowConfidenceThreshold = 0.3
	LowConfidenceMinTurns  = 3
	RepeatedUnknownWindow  = 3
)

// EscalationUseCase decides whether a turn hands the session to a human.
type EscalationUseCase interface {
	ShouldEscalate(ctx context.Context, c model.Classification, s *model.Session) model.EscalationDecision
}

var _ EscalationUseCase = (*escalationUC)(nil)

type escalationUC struct {
	workers adapter.WorkerDirectory
	phrases []string
	log     zerolog.Logger
}

func NewEscalationUseCase(workers adapter.WorkerDirectory, logger *zerolog.Logger) *escalationUC {
	return &escalationUC{
		workers: workers,
		phrases: normalizeAll(humanRequestPhrases),
		log:     logger.With().Str("component", "escalation").Logger(),
	}
}

// ShouldEscalate applies the rules in priority order; the first match wins.
// The session is expected to already hold the current user turn and the
// updated intent history.
func (u *escalationUC) ShouldEscalate(ctx context.Context, c model.Classification, s *model.Session) model.EscalationDecision {
	defer logging.TraceDuration(&u.log, "EscalationUC.ShouldEscalate")()

	reason := u.reason(c, s)
	if reason == model.ReasonNone {
		return model.EscalationDecision{Reason: model.ReasonNone}
	}
	d := model.EscalationDecision{Escalate: true, Reason: reason}
	if w, ok := u.pickWorker(ctx, s.Language); ok {
		d.Worker = &w
	}
	return d
}

func (u *escalationUC) reason(c model.Classification, s *model.Session) model.EscalationReason {
	if c.Urgency == model.UrgencyCritical {
		return model.ReasonCriticalUrgency
	}
	if c.Intent == model.IntentRequestHuman || u.asksForHuman(c, s) {
		return model.ReasonUserRequest
	}
	if c.Confidence < LowConfidenceThreshold && s.UserTurns() > LowConfidenceMinTurns {
		return model.ReasonLowConfidence
	}
	if repeatedUnknown(s.Context.RecentIntents) {
		return model.ReasonRepeatedUnknown
	}
	return model.ReasonNone
}

func (u *escalationUC) asksForHuman(c model.Classification, s *model.Session) bool {
	texts := []string{c.NormalizedText}
	if t, ok := s.LastUserTurn(); ok {
		texts = append(texts, normalize(t.Content))
	}
	for _, text := range texts {
		for _, p := range u.phrases {
			if containsPhrase(text, p) {
				return true
			}
		}
	}
	return false
}

func repeatedUnknown(recent []model.Intent) bool {
	if len(recent) < RepeatedUnknownWindow {
		return false
	}
	for _, i := range recent[len(recent)-RepeatedUnknownWindow:] {
		if i != model.IntentUnknown {
			return false
		}
	}
	return true
}

// pickWorker returns the first online worker speaking lang with spare
// capacity. Directory failures leave the hand-off queued.
func (u *escalationUC) pickWorker(ctx context.Context, lang model.Language) (model.HumanWorker, bool) {
	if u.workers == nil {
		return model.HumanWorker{}, false
	}
	ws, err := u.workers.ListWorkers(ctx)
	if err != nil {
		u.log.Warn().Err(err).Msg("worker directory unavailable, queueing hand-off")
		return model.HumanWorker{}, false
	}
	for _, w := range ws {
		if w.Online && w.Speaks(lang) && w.HasCapacity() {
			return w, true
		}
	}
	return model.HumanWorker{}, false
}
