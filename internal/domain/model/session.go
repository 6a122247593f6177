package model

import (
	"fmt"
	"strings"
	"time"

	"health-triage/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type Platform string

const (
	PlatformWeb       Platform = "web"
	PlatformVoice     Platform = "voice"
	PlatformMessaging Platform = "messaging"
)

func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformVoice, PlatformMessaging:
		return p, nil
	case "":
		return PlatformWeb, nil
	}
	return "", fmt.Errorf("%w: platform %q", domain.ErrInvalidArgument, s)
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEscalated SessionStatus = "escalated"
	SessionCompleted SessionStatus = "completed"
)

// CanTransitionTo allows active->escalated, active->completed and
// escalated->completed only.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionActive:
		return next == SessionEscalated || next == SessionCompleted
	case SessionEscalated:
		return next == SessionCompleted
	}
	return false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageKind string

const (
	KindText       MessageKind = "text"
	KindAssessment MessageKind = "assessment"
	KindEscalation MessageKind = "escalation"
)

type TurnMetadata struct {
	Intent           Intent            `json:"intent,omitempty"`
	Confidence       float64           `json:"confidence,omitempty"`
	Entities         []Entity          `json:"entities,omitempty"`
	Urgency          Urgency           `json:"urgency,omitempty"`
	Options          []string          `json:"options,omitempty"`
	Assessment       *AssessmentResult `json:"assessment,omitempty"`
	EscalationReason EscalationReason  `json:"escalation_reason,omitempty"`
	WorkerID         string            `json:"worker_id,omitempty"`
	ModelUsed        string            `json:"model_used,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
}

// Turn is one immutable message of a session.
type Turn struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Language  Language      `json:"language"`
	Kind      MessageKind   `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Metadata  *TurnMetadata `json:"metadata,omitempty"`
}

const (
	RecentIntentWindow = 5
	ProcessedKeyWindow = 32
)

// ProcessedKey maps a client idempotency key to the reply it produced.
type ProcessedKey struct {
	Key         string `json:"key"`
	ReplyTurnID string `json:"reply_turn_id"`
}

// Context is the conversational memory replaced wholesale at each commit.
type Context struct {
	CurrentIntent Intent                    `json:"current_intent,omitempty"`
	SeenEntities  []Entity                  `json:"seen_entities,omitempty"`
	RecentIntents []Intent                  `json:"recent_intents,omitempty"`
	Assessment    *SymptomAssessmentContext `json:"assessment,omitempty"`
	ProcessedKeys []ProcessedKey            `json:"processed_keys,omitempty"`
}

// RecordIntent sets the current intent and pushes it onto the bounded history.
func (c *Context) RecordIntent(i Intent) {
	c.CurrentIntent = i
	c.RecentIntents = append(c.RecentIntents, i)
	if n := len(c.RecentIntents); n > RecentIntentWindow {
		c.RecentIntents = append([]Intent(nil), c.RecentIntents[n-RecentIntentWindow:]...)
	}
}

// AddEntities merges into the seen set keyed by (type, value).
func (c *Context) AddEntities(es []Entity) {
	for _, e := range es {
		if !c.HasEntity(e.Type, e.Value) {
			c.SeenEntities = append(c.SeenEntities, e)
		}
	}
}

func (c *Context) HasEntity(t EntityType, v string) bool {
	for _, e := range c.SeenEntities {
		if e.Type == t && strings.EqualFold(e.Value, v) {
			return true
		}
	}
	return false
}

func (c *Context) RememberKey(key, replyTurnID string) {
	if key == "" {
		return
	}
	c.ProcessedKeys = append(c.ProcessedKeys, ProcessedKey{Key: key, ReplyTurnID: replyTurnID})
	if n := len(c.ProcessedKeys); n > ProcessedKeyWindow {
		c.ProcessedKeys = append([]ProcessedKey(nil), c.ProcessedKeys[n-ProcessedKeyWindow:]...)
	}
}

func (c *Context) LookupKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, k := range c.ProcessedKeys {
		if k.Key == key {
			return k.ReplyTurnID, true
		}
	}
	return "", false
}

func (c Context) Clone() Context {
	cp := c
	cp.SeenEntities = append([]Entity(nil), c.SeenEntities...)
	cp.RecentIntents = append([]Intent(nil), c.RecentIntents...)
	cp.ProcessedKeys = append([]ProcessedKey(nil), c.ProcessedKeys...)
	cp.Assessment = c.Assessment.Clone()
	return cp
}

// Session is the aggregate root of one user conversation. It is only mutated
// through AppendTurn, ReplaceContext, Transition and Escalate.
type Session struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Platform         Platform         `json:"platform"`
	Language         Language         `json:"language"`
	Status           SessionStatus    `json:"status"`
	Turns            []Turn           `json:"turns"`
	Context          Context          `json:"context"`
	StartedAt        time.Time        `json:"started_at"`
	LastActivity     time.Time        `json:"last_activity"`
	EscalatedTo      string           `json:"escalated_to,omitempty"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	Version          int64            `json:"version"`
}

func NewSession(id, userID string, platform Platform, lang Language, now time.Time) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if !lang.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, lang)
	}
	if platform == "" {
		platform = PlatformWeb
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:           id,
		UserID:       userID,
		Platform:     platform,
		Language:     lang,
		Status:       SessionActive,
		Turns:        make([]Turn, 0, 8),
		StartedAt:    now,
		LastActivity: now,
	}, nil
}

// AppendTurn adds an immutable turn and returns it. Completed sessions accept
// nothing.
func (s *Session) AppendTurn(role Role, kind MessageKind, content string, lang Language, meta *TurnMetadata, at time.Time) (Turn, error) {
	if s.Status == SessionCompleted {
		return Turn{}, domain.ErrSessionClosed
	}
	if kind == "" {
		kind = KindText
	}
	t := Turn{
		ID:        ulid.Make().String(),
		SessionID: s.ID,
		Seq:       len(s.Turns) + 1,
		Role:      role,
		Content:   content,
		Language:  lang,
		Kind:      kind,
		CreatedAt: at,
		Metadata:  meta,
	}
	s.Turns = append(s.Turns, t)
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return t, nil
}

func (s *Session) ReplaceContext(c Context) { s.Context = c }

// Transition moves the status forward or fails with ErrInvalidTransition.
func (s *Session) Transition(next SessionStatus) error {
	if s.Status == next {
		return nil
	}
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// Escalate transitions to escalated and records who took the hand-off.
// workerID may be empty when the hand-off is queued.
func (s *Session) Escalate(reason EscalationReason, workerID string) error {
	if err := s.Transition(SessionEscalated); err != nil {
		return err
	}
	s.EscalationReason = reason
	s.EscalatedTo = workerID
	return nil
}

// UserTurns counts turns authored by the user.
func (s *Session) UserTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to mutate during a turn.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns), len(s.Turns)+4)
	copy(cp.Turns, s.Turns)
	cp.Context = s.Context.Clone()
	return &cp
}

func (s *Session) LastUserTurn() (Turn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}

func (s *Session) TurnByID(id string) (Turn, bool) {
	for _, t := range s.Turns {
		if t.ID == id {
			return t, true
		}
	}
	return Turn{}, false
}

func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
