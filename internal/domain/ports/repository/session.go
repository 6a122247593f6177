package repository

import (
	"context"
	"time"

	"health-triage/internal/domain/model"
)

// -----------------------------
// Sessions
// -----------------------------

// SessionRepository persists the session aggregate. Save upserts the session
// row with optimistic concurrency on Version and appends turns that are not
// stored yet; it never rewrites a stored turn.
type SessionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Session) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Session, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.SessionStatus) error
	// ListIdle returns ids of non-completed sessions whose last activity is before cutoff.
	ListIdle(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]string, error)
}

// SessionLocker serialises turns of one session. The returned release func
// must be called on every path.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (release func(), err error)
}
