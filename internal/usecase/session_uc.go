package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/logging"
	"health-triage/internal/infra/metrics"
)

// TurnRequest is one inbound user utterance. SessionID empty starts a new
// session; Language empty asks the language service.
type TurnRequest struct {
	SessionID      string
	UserID         string
	Text           string
	Language       string
	Platform       string
	IdempotencyKey string
	Image          *adapter.InlineImage
}

type TurnResponse struct {
	SessionID        string                  `json:"session_id"`
	Status           model.SessionStatus     `json:"status"`
	Reply            model.Turn              `json:"reply"`
	Intent           model.Intent            `json:"intent,omitempty"`
	Urgency          model.Urgency           `json:"urgency,omitempty"`
	Escalated        bool                    `json:"escalated"`
	EscalationReason model.EscalationReason  `json:"escalation_reason,omitempty"`
	WorkerID         string                  `json:"worker_id,omitempty"`
	Assessment       *model.AssessmentResult `json:"assessment,omitempty"`
	AssessmentActive bool                    `json:"assessment_active"`
	Duplicate        bool                    `json:"duplicate"`
}

type SessionUseCase interface {
	HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	EndSession(ctx context.Context, id string) error
	ResolveEscalation(ctx context.Context, id string) (*model.Session, error)
	ReapIdle(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type SessionOptions struct {
	PreferredModel string
	HistoryTokens  int
	MaxTokens      int
	Temperature    float64
	Now            func() time.Time
}

var _ SessionUseCase = (*sessionUC)(nil)

type sessionUC struct {
	repo       repository.SessionRepository
	locker     repository.SessionLocker
	classifier ClassifierUseCase
	assess     AssessmentUseCase
	escalation EscalationUseCase
	gen        adapter.TextGenerator
	lang       adapter.LanguageService
	tokens     adapter.TokenCounter
	say        localizer
	opts       SessionOptions

	// closing marks sessions whose EndSession is waiting for the lock
	closing sync.Map

	log zerolog.Logger
}

func NewSessionUseCase(
	repo repository.SessionRepository,
	locker repository.SessionLocker,
	classifier ClassifierUseCase,
	assess AssessmentUseCase,
	escalation EscalationUseCase,
	gen adapter.TextGenerator,
	lang adapter.LanguageService,
	bank adapter.TemplateBank,
	tokens adapter.TokenCounter,
	opts SessionOptions,
	logger *zerolog.Logger,
) *sessionUC {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryTokens <= 0 {
		opts.HistoryTokens = 1500
	}
	u := &sessionUC{
		repo:       repo,
		locker:     locker,
		classifier: classifier,
		assess:     assess,
		escalation: escalation,
		gen:        gen,
		lang:       lang,
		tokens:     tokens,
		opts:       opts,
		log:        logger.With().Str("component", "session").Logger(),
	}
	u.say = localizer{bank: bank, translate: u.fromWorking}
	return u
}

// turnState carries the in-progress clone and what the turn produced.
type turnState struct {
	work     *model.Session
	conv     model.Context
	lang     model.Language
	cls      model.Classification
	userTurn model.Turn

	reply      string
	kind       model.MessageKind
	role       model.Role
	meta       model.TurnMetadata
	result     *model.AssessmentResult
	escalation model.EscalationDecision
}

func (u *sessionUC) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	defer logging.TraceDuration(&u.log, "SessionUC.HandleTurn")()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidArgument)
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	var lang model.Language
	if req.Language != "" {
		if lang, err = model.ParseLanguage(req.Language); err != nil {
			return nil, err
		}
	}

	sessionID := req.SessionID
	creating := sessionID == ""
	if creating {
		if strings.TrimSpace(req.UserID) == "" {
			return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
		}
		sessionID = uuid.NewString()
	}
	ctx = logging.WithSessID(logging.WithUserID(ctx, req.UserID), sessionID)
	log := logging.With(ctx, &u.log)

	release, err := u.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer release()

	now := u.opts.Now()
	var current *model.Session
	if creating {
		if lang == "" {
			lang = u.detect(ctx, text, model.WorkingLanguage)
		}
		if current, err = model.NewSession(sessionID, req.UserID, platform, lang, now); err != nil {
			return nil, err
		}
	} else {
		if current, err = u.load(ctx, sessionID); err != nil {
			return nil, err
		}
		if req.UserID != "" && current.UserID != req.UserID {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
	}

	if u.isClosing(sessionID) {
		return nil, domain.ErrSessionClosed
	}
	switch current.Status {
	case model.SessionCompleted:
		return nil, domain.ErrSessionClosed
	case model.SessionEscalated:
		return nil, domain.ErrSessionEscalated
	}

	if replyID, ok := current.Context.LookupKey(req.IdempotencyKey); ok {
		if reply, ok := current.TurnByID(replyID); ok {
			metrics.IncTurn("duplicate")
			log.Debug().Str("key", req.IdempotencyKey).Msg("replaying committed turn")
			return u.response(current, reply, nil, true), nil
		}
	}

	if lang == "" {
		lang = u.detect(ctx, text, current.Language)
	}

	st := &turnState{work: current.Clone(), lang: lang, role: model.RoleAssistant, kind: model.KindText}
	st.conv = st.work.Context.Clone()

	if err := u.process(ctx, st, text, req, now); err != nil {
		metrics.IncTurn("error")
		return nil, err
	}

	// EndSession may have been requested while we were waiting on the model
	if u.isClosing(sessionID) {
		metrics.IncTurn("discarded")
		log.Info().Msg("session closed during turn, discarding result")
		return nil, domain.ErrSessionClosed
	}
	if err := u.repo.Save(ctx, nil, st.work); err != nil {
		metrics.IncTurn("error")
		return nil, fmt.Errorf("save session: %w", err)
	}

	replyTurn := st.work.Turns[len(st.work.Turns)-1]
	outcome := "ok"
	if st.escalation.Escalate {
		outcome = "escalated"
	}
	metrics.IncTurn(outcome)
	log.Info().Str("intent", string(st.cls.Intent)).Str("urgency", string(st.cls.Urgency)).
		Str("lang", lang.String()).Str("status", string(st.work.Status)).Msg("turn handled")
	return u.response(st.work, replyTurn, st.result, false), nil
}

// process runs classification, escalation and routing on the clone and
// appends the user and reply turns. Nothing is persisted here.
func (u *sessionUC) process(ctx context.Context, st *turnState, text string, req TurnRequest, now time.Time) error {
	log := logging.With(ctx, &u.log)

	abandoned := false
	if u.assess.Stale(st.conv.Assessment, now) {
		metrics.IncAssessment(string(st.conv.Assessment.PrimarySymptom), "abandoned")
		log.Info().Str("symptom", string(st.conv.Assessment.PrimarySymptom)).Msg("assessment abandoned after idle timeout")
		st.conv.Assessment = nil
		abandoned = true
	}

	st.cls = u.classifier.Classify(ctx, text, st.lang, &st.conv)
	inAssessment := st.conv.Assessment != nil && !st.conv.Assessment.IsComplete() && st.cls.Intent != model.IntentCancel
	if inAssessment {
		st.cls.Intent = model.IntentAssessmentAnswer
		st.cls.Confidence = 1
		st.cls.Source = model.SourceAssessment
	}

	var err error
	st.userTurn, err = st.work.AppendTurn(model.RoleUser, model.KindText, text, st.lang, &model.TurnMetadata{
		Intent:         st.cls.Intent,
		Confidence:     st.cls.Confidence,
		Entities:       st.cls.Entities,
		Urgency:        st.cls.Urgency,
		IdempotencyKey: req.IdempotencyKey,
	}, now)
	if err != nil {
		return err
	}
	st.conv.RecordIntent(st.cls.Intent)
	st.conv.AddEntities(st.cls.Entities)
	st.work.ReplaceContext(st.conv.Clone())

	st.meta.Intent = st.cls.Intent
	st.escalation = u.escalation.ShouldEscalate(ctx, st.cls, st.work)
	switch {
	case st.escalation.Escalate:
		if err := u.escalate(ctx, st); err != nil {
			return err
		}
	case inAssessment:
		if err := u.continueAssessment(ctx, st, now); err != nil {
			return err
		}
	default:
		u.route(ctx, st, text, req, now)
		if abandoned && st.conv.Assessment == nil {
			st.reply = u.say.say(ctx, st.lang, "assessment_abandoned") + "\n" + st.reply
		}
	}

	reply, err := st.work.AppendTurn(st.role, st.kind, st.reply, st.lang, &st.meta, now)
	if err != nil {
		return err
	}
	st.conv.RememberKey(req.IdempotencyKey, reply.ID)
	st.work.ReplaceContext(st.conv)
	return nil
}

func (u *sessionUC) escalate(ctx context.Context, st *turnState) error {
	d := st.escalation
	workerID := ""
	if d.Worker != nil {
		workerID = d.Worker.ID
	}
	// a pending question flow is meaningless once a human takes over
	st.conv.Assessment = nil
	if err := st.work.Escalate(d.Reason, workerID); err != nil {
		return err
	}

	var parts []string
	if d.Reason == model.ReasonCriticalUrgency {
		parts = append(parts, u.say.say(ctx, st.lang, "emergency_advice"))
	}
	if d.Worker != nil {
		parts = append(parts, u.say.say(ctx, st.lang, "escalation_assigned", d.Worker.Name))
	} else {
		parts = append(parts, u.say.say(ctx, st.lang, "escalation_queued"))
	}
	st.reply = strings.Join(parts, "\n")
	st.role = model.RoleSystem
	st.kind = model.KindEscalation
	st.meta.Urgency = st.cls.Urgency
	st.meta.EscalationReason = d.Reason
	st.meta.WorkerID = workerID

	metrics.IncEscalation(string(d.Reason), d.Worker != nil)
	logging.With(ctx, &u.log).Warn().Str("reason", string(d.Reason)).Str("worker", workerID).Msg("session escalated")
	return nil
}

func (u *sessionUC) continueAssessment(ctx context.Context, st *turnState, now time.Time) error {
	out, err := u.assess.Answer(st.conv.Assessment, st.userTurn.Content, st.cls.NormalizedText, now)
	if err != nil {
		return err
	}
	st.kind = model.KindAssessment
	ack := u.say.say(ctx, st.lang, out.Ack)
	if out.Next != nil {
		st.conv.Assessment = out.Context
		st.reply = ack + " " + u.fromWorking(ctx, out.Next.Prompt, st.lang)
		st.meta.Options = out.Next.Options
		return nil
	}
	// flow finished; the result lives on the reply turn
	st.conv.Assessment = nil
	st.result = out.Result
	st.meta.Assessment = out.Result
	st.reply = ack + "\n" + renderResult(ctx, u.say, st.lang, *out.Result)
	return nil
}

func (u *sessionUC) route(ctx context.Context, st *turnState, text string, req TurnRequest, now time.Time) {
	lang := st.lang
	switch st.cls.Intent {
	case model.IntentCancel:
		if st.conv.Assessment != nil {
			metrics.IncAssessment(string(st.conv.Assessment.PrimarySymptom), "cancelled")
			st.conv.Assessment = nil
			st.reply = u.say.say(ctx, lang, "cancel_ack")
			return
		}
		st.reply = u.say.say(ctx, lang, "cancel_nothing")
	case model.IntentGreeting, model.IntentFarewell, model.IntentThanks, model.IntentAppointment:
		st.reply = u.say.say(ctx, lang, string(st.cls.Intent))
	case model.IntentEmergency:
		st.reply = u.say.say(ctx, lang, "emergency_advice")
	case model.IntentSymptomReport:
		if sym, ok := u.assess.Detect(st.cls); ok {
			if u.startAssessment(ctx, st, sym, now) {
				return
			}
		}
		u.freeform(ctx, st, text, req)
	default:
		if sym, ok := u.assess.Detect(st.cls); ok && st.cls.Intent == model.IntentUnknown {
			if u.startAssessment(ctx, st, sym, now) {
				return
			}
		}
		u.freeform(ctx, st, text, req)
	}
}

func (u *sessionUC) startAssessment(ctx context.Context, st *turnState, sym model.Symptom, now time.Time) bool {
	a, q, err := u.assess.Start(sym, st.cls.NormalizedText, now)
	if err != nil {
		logging.With(ctx, &u.log).Warn().Err(err).Str("symptom", string(sym)).Msg("cannot start assessment")
		return false
	}
	st.conv.Assessment = a
	st.kind = model.KindAssessment
	st.meta.Options = q.Options
	intro := u.say.sayKeys(ctx, st.lang, "assessment_start", "symptom_"+string(sym))
	st.reply = intro + " " + u.fromWorking(ctx, q.Prompt, st.lang)
	return true
}

// freeform asks the gateway. Exhaustion degrades to a polite template; the
// attempt trail stays in logs and metrics.
func (u *sessionUC) freeform(ctx context.Context, st *turnState, text string, req TurnRequest) {
	log := logging.With(ctx, &u.log)
	p := adapter.Prompt{
		System: systemPrompt(st.lang),
		Text:   u.history(st.work, st.userTurn.ID) + "User: " + text,
		Image:  req.Image,
	}
	gen, err := u.gen.Generate(ctx, u.opts.PreferredModel, p, adapter.GenerateOptions{
		MaxTokens:   u.opts.MaxTokens,
		Temperature: u.opts.Temperature,
		Stop:        []string{"\nUser:"},
	})
	if err != nil {
		log.Error().Err(err).Str("intent", string(st.cls.Intent)).Msg("model gateway exhausted")
		st.reply = u.say.say(ctx, st.lang, "model_failure")
		return
	}
	st.meta.ModelUsed = gen.ModelUsed
	if tagged, ok := ParseTaggedReply(gen.Text); ok {
		st.reply = renderTagged(ctx, u.say, st.lang, tagged)
		return
	}
	log.Debug().Str("model", gen.ModelUsed).Msg("model ignored the tagged format, using raw output")
	out := unstructured(gen.Text)
	if out == "" {
		out = u.say.say(ctx, st.lang, "unknown_clarify")
	}
	st.reply = out
}

// history renders the most recent turns, newest last, within the token
// budget. The current user turn is excluded.
func (u *sessionUC) history(s *model.Session, exclude string) string {
	var lines []string
	budget := u.opts.HistoryTokens
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		if t.ID == exclude || t.Role == model.RoleSystem {
			continue
		}
		speaker := "User"
		if t.Role == model.RoleAssistant {
			speaker = "Assistant"
		}
		line := speaker + ": " + t.Content
		n := len(line) / 4
		if u.tokens != nil {
			n = u.tokens.Count(line)
		}
		if n > budget {
			break
		}
		budget -= n
		lines = append(lines, line)
	}
	var b strings.Builder
	for i := len(lines) - 1; i >= 0; i-- {
		b.WriteString(lines[i])
		b.WriteByte('\n')
	}
	return b.String()
}

func (u *sessionUC) detect(ctx context.Context, text string, fallback model.Language) model.Language {
	if u.lang == nil {
		return fallback
	}
	l, err := u.lang.Detect(ctx, text)
	if err != nil || !l.Valid() {
		logging.With(ctx, &u.log).Debug().Err(err).Str("fallback", fallback.String()).Msg("language detection failed")
		return fallback
	}
	return l
}

// fromWorking translates English text to lang, returning the input on failure.
func (u *sessionUC) fromWorking(ctx context.Context, text string, lang model.Language) string {
	if lang == model.WorkingLanguage || u.lang == nil || text == "" {
		return text
	}
	out, err := u.lang.Translate(ctx, text, model.WorkingLanguage, lang)
	if err != nil || strings.TrimSpace(out) == "" {
		logging.With(ctx, &u.log).Warn().Err(err).Str("lang", lang.String()).Msg("reply translation failed, sending English")
		return text
	}
	return out
}

func (u *sessionUC) response(s *model.Session, reply model.Turn, res *model.AssessmentResult, dup bool) *TurnResponse {
	r := &TurnResponse{
		SessionID:        s.ID,
		Status:           s.Status,
		Reply:            reply,
		Escalated:        s.Status == model.SessionEscalated,
		EscalationReason: s.EscalationReason,
		WorkerID:         s.EscalatedTo,
		Assessment:       res,
		AssessmentActive: s.Context.Assessment != nil && !s.Context.Assessment.IsComplete(),
		Duplicate:        dup,
	}
	if r.Assessment == nil && reply.Metadata != nil {
		r.Assessment = reply.Metadata.Assessment
	}
	if user, ok := s.LastUserTurn(); ok && user.Metadata != nil {
		r.Intent = user.Metadata.Intent
		r.Urgency = user.Metadata.Urgency
	}
	return r
}

func (u *sessionUC) load(ctx context.Context, id string) (*model.Session, error) {
	s, err := u.repo.FindByID(ctx, nil, id)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (u *sessionUC) isClosing(id string) bool {
	_, ok := u.closing.Load(id)
	return ok
}

func (u *sessionUC) GetSession(ctx context.Context, id string) (*model.Session, error) {
	defer logging.TraceDuration(&u.log, "SessionUC.GetSession")()
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}
	return u.load(ctx, id)
}

// EndSession completes the session. A turn still in flight sees the closing
// mark at commit and discards its result. Ending a completed session is a
// no-op.
func (u *sessionUC) EndSession(ctx context.Context, id string) error {
	defer logging.TraceDuration(&u.log, "SessionUC.EndSession")()
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}
	u.closing.Store(id, struct{}{})
	defer u.closing.Delete(id)

	return u.complete(ctx, id, func(s *model.Session) error { return nil })
}

// ResolveEscalation lets an operator close a session handled by a human.
func (u *sessionUC) ResolveEscalation(ctx context.Context, id string) (*model.Session, error) {
	defer logging.TraceDuration(&u.log, "SessionUC.ResolveEscalation")()
	var out *model.Session
	err := u.complete(ctx, id, func(s *model.Session) error {
		if s.Status != model.SessionEscalated {
			return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidTransition, id, s.Status)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *sessionUC) complete(ctx context.Context, id string, check func(*model.Session) error) error {
	release, err := u.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	defer release()

	s, err := u.load(ctx, id)
	if err != nil {
		return err
	}
	if err := check(s); err != nil {
		return err
	}
	if s.Status == model.SessionCompleted {
		return nil
	}
	work := s.Clone()
	if err := work.Transition(model.SessionCompleted); err != nil {
		return err
	}
	work.Context.Assessment = nil
	if err := u.repo.Save(ctx, nil, work); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	*s = *work
	logging.With(logging.WithSessID(ctx, id), &u.log).Info().Msg("session completed")
	return nil
}

var errStillActive = errors.New("session active again")

// ReapIdle completes sessions idle since before cutoff and returns how many
// were closed.
func (u *sessionUC) ReapIdle(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	defer logging.TraceDuration(&u.log, "SessionUC.ReapIdle")()
	ids, err := u.repo.ListIdle(ctx, nil, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		err := u.complete(ctx, id, func(s *model.Session) error {
			if !s.LastActivity.Before(cutoff) {
				return errStillActive
			}
			return nil
		})
		if errors.Is(err, errStillActive) {
			continue
		}
		if err != nil {
			u.log.Warn().Err(err).Str("session_id", id).Msg("reap session failed")
			continue
		}
		n++
	}
	metrics.AddSessionsReaped(n)
	return n, nil
}
