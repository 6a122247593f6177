package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Resetter is implemented by the model gateway.
type Resetter interface {
	Reset()
}

// GatewayResetWorker clears the gateway's failed-model set on a fixed
// interval so models that recovered are tried again.
type GatewayResetWorker struct {
	interval time.Duration
	gw       Resetter
	log      *zerolog.Logger
}

func NewGatewayResetWorker(interval time.Duration, gw Resetter, logger *zerolog.Logger) *GatewayResetWorker {
	compLog := logger.With().Str("component", "GatewayResetWorker").Logger()
	return &GatewayResetWorker{interval: interval, gw: gw, log: &compLog}
}

func (w *GatewayResetWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting gateway reset worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping gateway reset worker")
			return ctx.Err()
		case <-ticker.C:
			w.gw.Reset()
		}
	}
}
