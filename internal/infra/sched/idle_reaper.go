package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper is the slice of the session use case the reaper drives.
type Reaper interface {
	ReapIdle(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// IdleReaper periodically completes sessions with no activity for idle.
type IdleReaper struct {
	interval time.Duration
	idle     time.Duration
	batch    int
	sessions Reaper
	now      func() time.Time
	log      *zerolog.Logger
}

func NewIdleReaper(interval, idle time.Duration, sessions Reaper, logger *zerolog.Logger) *IdleReaper {
	compLog := logger.With().Str("component", "IdleReaper").Logger()
	return &IdleReaper{
		interval: interval,
		idle:     idle,
		batch:    100,
		sessions: sessions,
		now:      time.Now,
		log:      &compLog,
	}
}

func (w *IdleReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("idle", w.idle).Msg("Starting idle reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping idle reaper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep drains idle sessions batch by batch until a short batch comes back.
func (w *IdleReaper) sweep(ctx context.Context) {
	cutoff := w.now().Add(-w.idle)
	total := 0
	for ctx.Err() == nil {
		n, err := w.sessions.ReapIdle(ctx, cutoff, w.batch)
		if err != nil {
			w.log.Error().Err(err).Msg("idle reaper error")
			return
		}
		total += n
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("count", total).Msg("idle sessions completed")
	}
}
