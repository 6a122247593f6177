package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/metrics"
)

var _ repository.SessionRepository = (*sessionRepoCacheDecorator)(nil)

// sessionRepoCacheDecorator keeps a JSON copy of each session next to the
// durable store. Writes go to the store first and then refresh the copy; a
// failed write drops it so the next read goes back to the store.
type sessionRepoCacheDecorator struct {
	inner repository.SessionRepository
	cache RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewSessionRepoCacheDecorator(inner repository.SessionRepository, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "session_cache").Logger(),
	}
}

func sessionKey(id string) string { return "session:" + id }

func (d *sessionRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, s *model.Session) error {
	if err := d.inner.Save(ctx, tx, s); err != nil {
		_ = d.cache.Del(ctx, sessionKey(s.ID))
		return err
	}
	d.store(ctx, s)
	return nil
}

func (d *sessionRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Session, error) {
	if tx == nil {
		val, err := d.cache.Get(ctx, sessionKey(id))
		switch {
		case err == nil:
			var s model.Session
			if json.Unmarshal([]byte(val), &s) == nil {
				metrics.IncCacheRequest("session", "hit")
				return &s, nil
			}
			_ = d.cache.Del(ctx, sessionKey(id))
		case !errors.Is(err, ErrCacheMiss):
			d.log.Warn().Err(err).Str("session_id", id).Msg("session cache read failed")
		}
		metrics.IncCacheRequest("session", "miss")
	}

	s, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, s)
	return s, nil
}

func (d *sessionRepoCacheDecorator) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SessionStatus) error {
	_ = d.cache.Del(ctx, sessionKey(id))
	return d.inner.UpdateStatus(ctx, tx, id, status)
}

func (d *sessionRepoCacheDecorator) ListIdle(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]string, error) {
	return d.inner.ListIdle(ctx, tx, cutoff, limit)
}

func (d *sessionRepoCacheDecorator) store(ctx context.Context, s *model.Session) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, sessionKey(s.ID), b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("session_id", s.ID).Msg("session cache write failed")
	}
}
