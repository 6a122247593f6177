// Package workers serves the human health-worker roster from configuration.
package workers

import (
	"context"
	"fmt"

	"health-triage/internal/config"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
)

var _ adapter.WorkerDirectory = (*StaticDirectory)(nil)

// StaticDirectory is a fixed roster loaded once at startup. Order is kept so
// the escalation engine's "first match" rule follows the config file.
type StaticDirectory struct {
	workers []model.HumanWorker
}

func NewStaticDirectory(cfgs []config.WorkerConfig) (*StaticDirectory, error) {
	out := make([]model.HumanWorker, 0, len(cfgs))
	for _, c := range cfgs {
		w := model.HumanWorker{
			ID:          c.ID,
			Name:        c.Name,
			Online:      c.Online,
			CurrentLoad: c.Load,
			Capacity:    c.Capacity,
		}
		for _, raw := range c.Languages {
			l, err := model.ParseLanguage(raw)
			if err != nil {
				return nil, fmt.Errorf("worker %s: %w", c.ID, err)
			}
			w.Languages = append(w.Languages, l)
		}
		out = append(out, w)
	}
	return &StaticDirectory{workers: out}, nil
}

// ListWorkers returns a copy; callers may not mutate the roster.
func (d *StaticDirectory) ListWorkers(ctx context.Context) ([]model.HumanWorker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.HumanWorker, len(d.workers))
	for i, w := range d.workers {
		w.Languages = append([]model.Language(nil), w.Languages...)
		out[i] = w
	}
	return out, nil
}
