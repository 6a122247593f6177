package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/metrics"
)

var _ repository.SessionRepository = (*SessionRepo)(nil)

// SessionRepo stores the session row with its JSON context and appends turns
// to their own table. Writes are guarded by the row version.
type SessionRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool, tm: NewTxManager(pool)}
}

// Save runs inside tx when given, otherwise in its own transaction. The
// version on s is bumped only once the write went through.
func (r *SessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Session) (err error) {
	defer metrics.ObserveStoreOp("postgres", "save", time.Now(), &err)
	if tx != nil {
		err = r.save(ctx, tx, s)
	} else {
		err = r.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return r.save(ctx, tx, s)
		})
	}
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *SessionRepo) save(ctx context.Context, tx repository.Tx, s *model.Session) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	cb, err := json.Marshal(s.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	if s.Version == 0 {
		const q = `
INSERT INTO sessions (id, user_id, platform, language, status, context, escalated_to, escalation_reason, started_at, last_activity, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
ON CONFLICT (id) DO NOTHING;`
		tag, err := ex.Exec(ctx, q, s.ID, s.UserID, string(s.Platform), string(s.Language), string(s.Status),
			string(cb), s.EscalatedTo, string(s.EscalationReason), s.StartedAt, s.LastActivity)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: session %s already exists", domain.ErrConflict, s.ID)
		}
	} else {
		const q = `
UPDATE sessions SET
  language = $3,
  status = $4,
  context = $5,
  escalated_to = $6,
  escalation_reason = $7,
  last_activity = $8,
  version = version + 1
WHERE id = $1 AND version = $2;`
		tag, err := ex.Exec(ctx, q, s.ID, s.Version, string(s.Language), string(s.Status), string(cb),
			s.EscalatedTo, string(s.EscalationReason), s.LastActivity)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := ex.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id=$1);`, s.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: session %s version %d", domain.ErrConflict, s.ID, s.Version)
		}
	}

	var stored int
	if err := ex.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id=$1;`, s.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	if stored > len(s.Turns) {
		return fmt.Errorf("%w: session %s would drop turns", domain.ErrConflict, s.ID)
	}
	const qt = `
INSERT INTO turns (session_id, seq, id, role, kind, content, language, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (session_id, seq) DO NOTHING;`
	for _, t := range s.Turns[stored:] {
		var meta interface{}
		if t.Metadata != nil {
			mb, err := json.Marshal(t.Metadata)
			if err != nil {
				return fmt.Errorf("encode turn metadata: %w", err)
			}
			meta = string(mb)
		}
		if _, err := ex.Exec(ctx, qt, s.ID, t.Seq, t.ID, string(t.Role), string(t.Kind), t.Content,
			string(t.Language), meta, t.CreatedAt); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (_ *model.Session, err error) {
	defer metrics.ObserveStoreOp("postgres", "find", time.Now(), &err)
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	const qs = `
SELECT id, user_id, platform, language, status, context, escalated_to, escalation_reason, started_at, last_activity, version
FROM sessions WHERE id=$1;`
	var (
		s                     model.Session
		platform, lang, st    string
		reason                string
		cb                    []byte
		startedAt, lastActive time.Time
	)
	err = ex.QueryRow(ctx, qs, id).Scan(&s.ID, &s.UserID, &platform, &lang, &st, &cb,
		&s.EscalatedTo, &reason, &startedAt, &lastActive, &s.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Platform = model.Platform(platform)
	s.Language = model.Language(lang)
	s.Status = model.SessionStatus(st)
	s.EscalationReason = model.EscalationReason(reason)
	s.StartedAt = startedAt.UTC()
	s.LastActivity = lastActive.UTC()
	if err := json.Unmarshal(cb, &s.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}

	const qt = `
SELECT seq, id, role, kind, content, language, metadata, created_at
FROM turns WHERE session_id=$1 ORDER BY seq ASC;`
	rows, err := ex.Query(ctx, qt, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t := model.Turn{SessionID: s.ID}
		var role, kind, tl string
		var mb []byte
		if err := rows.Scan(&t.Seq, &t.ID, &role, &kind, &t.Content, &tl, &mb, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = model.Role(role)
		t.Kind = model.MessageKind(kind)
		t.Language = model.Language(tl)
		t.CreatedAt = t.CreatedAt.UTC()
		if len(mb) > 0 {
			t.Metadata = &model.TurnMetadata{}
			if err := json.Unmarshal(mb, t.Metadata); err != nil {
				return nil, fmt.Errorf("decode turn metadata: %w", err)
			}
		}
		s.Turns = append(s.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SessionStatus) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `UPDATE sessions SET status=$2, version=version+1 WHERE id=$1;`, id, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) ListIdle(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]string, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id FROM sessions
WHERE status <> 'completed' AND last_activity < $1
ORDER BY last_activity ASC
LIMIT $2;`
	rows, err := ex.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list idle: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
