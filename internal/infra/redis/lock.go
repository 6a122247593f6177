package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"health-triage/internal/domain/ports/repository"
)

var _ repository.SessionLocker = (*SessionLocker)(nil)

// SessionLocker serialises turns of a session across instances. The local
// locker is taken first so same-process contention never reaches Redis.
type SessionLocker struct {
	client RedisClient
	local  repository.SessionLocker
	ttl    time.Duration
	retry  time.Duration
	log    zerolog.Logger
}

func NewSessionLocker(client RedisClient, local repository.SessionLocker, ttl time.Duration, logger *zerolog.Logger) *SessionLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SessionLocker{
		client: client,
		local:  local,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		log:    logger.With().Str("component", "session_locker").Logger(),
	}
}

func lockKey(sessionID string) string { return "lock:session:" + sessionID }

// Lock blocks until the lock is held or ctx is done. The TTL bounds how long
// a crashed holder can keep a session.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	releaseLocal, err := l.local.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	key := lockKey(sessionID)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl)
		if err == nil && ok {
			break
		}
		if err != nil {
			l.log.Warn().Err(err).Str("session_id", sessionID).Msg("lock attempt failed")
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			releaseLocal()
			return nil, fmt.Errorf("acquire session lock: %w", ctx.Err())
		case <-t.C:
		}
	}
	return func() {
		// the turn ctx may already be cancelled; unlock on a fresh one
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.client.DelIfEquals(uctx, key, token); err != nil {
			l.log.Warn().Err(err).Str("session_id", sessionID).Msg("unlock failed; lock will expire")
		}
		releaseLocal()
	}, nil
}
