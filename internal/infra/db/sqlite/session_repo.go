// Package sqlite is the single-node session store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/metrics"
)

var (
	_ repository.SessionRepository  = (*SessionRepo)(nil)
	_ repository.TransactionManager = (*SessionRepo)(nil)
)

// SessionRepo mirrors the Postgres layout: one row per session with a JSON
// context and an append-only turns table. Timestamps are unix nanoseconds.
type SessionRepo struct {
	db *sql.DB
	// writes are serialised to avoid SQLITE_BUSY under concurrent turns
	writeMu sync.Mutex
}

// Open creates the database file (and its directory) when missing.
func Open(path string) (*SessionRepo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	r := &SessionRepo{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return r, nil
}

func (r *SessionRepo) initSchema() error {
	const q = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		language TEXT NOT NULL,
		status TEXT NOT NULL,
		context_json TEXT NOT NULL,
		escalated_to TEXT NOT NULL DEFAULT '',
		escalation_reason TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_idle ON sessions(last_activity) WHERE status <> 'completed';

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		language TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := r.db.Exec(q); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (r *SessionRepo) Close() error { return r.db.Close() }

func (r *SessionRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// WithTx runs fn inside a *sql.Tx.
func (r *SessionRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.withTxLocked(ctx, fn)
}

func (r *SessionRepo) withTxLocked(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SessionRepo) querier(tx repository.Tx) (querier, error) {
	switch v := tx.(type) {
	case nil:
		return r.db, nil
	case *sql.Tx:
		return v, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func (r *SessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Session) (err error) {
	defer metrics.ObserveStoreOp("sqlite", "save", time.Now(), &err)
	if tx != nil {
		err = r.save(ctx, tx, s)
	} else {
		r.writeMu.Lock()
		err = r.withTxLocked(ctx, func(ctx context.Context, tx repository.Tx) error {
			return r.save(ctx, tx, s)
		})
		r.writeMu.Unlock()
	}
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *SessionRepo) save(ctx context.Context, tx repository.Tx, s *model.Session) error {
	q, err := r.querier(tx)
	if err != nil {
		return err
	}
	cb, err := json.Marshal(s.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	if s.Version == 0 {
		res, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, platform, language, status, context_json, escalated_to, escalation_reason, started_at, last_activity, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING`,
			s.ID, s.UserID, string(s.Platform), string(s.Language), string(s.Status), string(cb),
			s.EscalatedTo, string(s.EscalationReason), s.StartedAt.UnixNano(), s.LastActivity.UnixNano())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: session %s already exists", domain.ErrConflict, s.ID)
		}
	} else {
		res, err := q.ExecContext(ctx, `
		UPDATE sessions SET language = ?, status = ?, context_json = ?, escalated_to = ?,
			escalation_reason = ?, last_activity = ?, version = version + 1
		WHERE id = ? AND version = ?`,
			string(s.Language), string(s.Status), string(cb), s.EscalatedTo,
			string(s.EscalationReason), s.LastActivity.UnixNano(), s.ID, s.Version)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, s.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			return fmt.Errorf("%w: session %s version %d", domain.ErrConflict, s.ID, s.Version)
		}
	}

	var stored int
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, s.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	if stored > len(s.Turns) {
		return fmt.Errorf("%w: session %s would drop turns", domain.ErrConflict, s.ID)
	}
	for _, t := range s.Turns[stored:] {
		var meta sql.NullString
		if t.Metadata != nil {
			mb, err := json.Marshal(t.Metadata)
			if err != nil {
				return fmt.Errorf("encode turn metadata: %w", err)
			}
			meta = sql.NullString{String: string(mb), Valid: true}
		}
		if _, err := q.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, id, role, kind, content, language, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING`,
			s.ID, t.Seq, t.ID, string(t.Role), string(t.Kind), t.Content, string(t.Language), meta, t.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (_ *model.Session, err error) {
	defer metrics.ObserveStoreOp("sqlite", "find", time.Now(), &err)
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	var (
		s                       model.Session
		platform, lang, st, rsn string
		cb                      string
		startedAt, lastActivity int64
	)
	err = q.QueryRowContext(ctx, `
		SELECT id, user_id, platform, language, status, context_json, escalated_to, escalation_reason,
		       started_at, last_activity, version
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &platform, &lang, &st, &cb, &s.EscalatedTo, &rsn, &startedAt, &lastActivity, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	s.Platform = model.Platform(platform)
	s.Language = model.Language(lang)
	s.Status = model.SessionStatus(st)
	s.EscalationReason = model.EscalationReason(rsn)
	s.StartedAt = time.Unix(0, startedAt).UTC()
	s.LastActivity = time.Unix(0, lastActivity).UTC()
	if err := json.Unmarshal([]byte(cb), &s.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, role, kind, content, language, metadata_json, created_at
		FROM turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t := model.Turn{SessionID: s.ID}
		var role, kind, tl string
		var meta sql.NullString
		var created int64
		if err := rows.Scan(&t.Seq, &t.ID, &role, &kind, &t.Content, &tl, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = model.Role(role)
		t.Kind = model.MessageKind(kind)
		t.Language = model.Language(tl)
		t.CreatedAt = time.Unix(0, created).UTC()
		if meta.Valid {
			t.Metadata = &model.TurnMetadata{}
			if err := json.Unmarshal([]byte(meta.String), t.Metadata); err != nil {
				return nil, fmt.Errorf("decode turn metadata: %w", err)
			}
		}
		s.Turns = append(s.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SessionStatus) error {
	q, err := r.querier(tx)
	if err != nil {
		return err
	}
	if tx == nil {
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
	}
	res, err := q.ExecContext(ctx, `UPDATE sessions SET status = ?, version = version + 1 WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) ListIdle(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]string, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE status <> 'completed' AND last_activity < ?
		ORDER BY last_activity LIMIT ?`, cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list idle: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
