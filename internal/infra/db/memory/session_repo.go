// Package memory is the in-process session store used in dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
)

var _ repository.SessionRepository = (*SessionRepo)(nil)

type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]*model.Session)}
}

// Save stores a copy of s when its Version matches the stored one and bumps
// the version on s. Stored turns must be a prefix of s.Turns.
func (r *SessionRepo) Save(ctx context.Context, _ repository.Tx, s *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID]; ok {
		if cur.Version != s.Version {
			return fmt.Errorf("%w: session %s version %d, stored %d", domain.ErrConflict, s.ID, s.Version, cur.Version)
		}
		if len(s.Turns) < len(cur.Turns) {
			return fmt.Errorf("%w: session %s would drop turns", domain.ErrConflict, s.ID)
		}
		for i := range cur.Turns {
			if cur.Turns[i].ID != s.Turns[i].ID {
				return fmt.Errorf("%w: session %s rewrites turn %d", domain.ErrConflict, s.ID, cur.Turns[i].Seq)
			}
		}
	} else if s.Version != 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, s.ID)
	}
	s.Version++
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := s.Transition(status); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *SessionRepo) ListIdle(ctx context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type idle struct {
		id   string
		last time.Time
	}
	var out []idle
	for _, s := range r.sessions {
		if s.Status != model.SessionCompleted && s.LastActivity.Before(cutoff) {
			out = append(out, idle{s.ID, s.LastActivity})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].last.Before(out[j].last) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.id
	}
	return ids, nil
}

// Len is the number of stored sessions.
func (r *SessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
