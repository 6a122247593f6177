// File: internal/infra/adapters/ai/gateway.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/infra/metrics"
)

var _ adapter.TextGenerator = (*Gateway)(nil)

type GatewayConfig struct {
	// Models is the ordered candidate list.
	Models         []string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	ResetInterval  time.Duration
	// AttemptLog bounds the attempts kept for Status.
	AttemptLog int

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// GenerateResult extends adapter.Generation with the attempts of this call.
type GenerateResult struct {
	adapter.Generation
	Attempts []model.ModelAttempt
}

type FailedModel struct {
	Model  string    `json:"model"`
	Since  time.Time `json:"since"`
	Reason string    `json:"reason"`
}

type GatewayStatus struct {
	Available      []string             `json:"available"`
	Failed         []FailedModel        `json:"failed"`
	NextReset      time.Time            `json:"next_reset"`
	RecentAttempts []model.ModelAttempt `json:"recent_attempts"`
}

// Gateway tries candidate models in order with in-place retries and
// exponential backoff, and takes models that report themselves unavailable
// out of rotation until the next reset. Its mutex only guards bookkeeping;
// provider calls run without it.
type Gateway struct {
	router *Router
	cfg    GatewayConfig
	log    *zerolog.Logger
	tokens adapter.TokenCounter

	mu        sync.Mutex
	failed    map[string]FailedModel
	nextReset time.Time
	attempts  []model.ModelAttempt
	head      int
	full      bool
}

func NewGateway(router *Router, cfg GatewayConfig, tokens adapter.TokenCounter, logger *zerolog.Logger) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 8
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = time.Hour
	}
	if cfg.AttemptLog <= 0 {
		cfg.AttemptLog = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "model_gateway").Logger()
	return &Gateway{
		router:    router,
		cfg:       cfg,
		log:       &l,
		tokens:    tokens,
		failed:    make(map[string]FailedModel),
		nextReset: cfg.Now().Add(cfg.ResetInterval),
		attempts:  make([]model.ModelAttempt, cfg.AttemptLog),
	}
}

func (g *Gateway) Generate(ctx context.Context, preferred string, p adapter.Prompt, opts adapter.GenerateOptions) (adapter.Generation, error) {
	res, err := g.GenerateDetailed(ctx, preferred, p, opts)
	return res.Generation, err
}

// GenerateDetailed runs the candidate loop. On exhaustion the error is an
// *ExhaustedError holding every attempt made.
func (g *Gateway) GenerateDetailed(ctx context.Context, preferred string, p adapter.Prompt, opts adapter.GenerateOptions) (GenerateResult, error) {
	if len(g.cfg.Models) == 0 {
		return GenerateResult{}, domain.ErrNoModels
	}
	var (
		trail   []model.ModelAttempt
		lastErr error
	)
	for _, m := range g.candidates(preferred) {
		prov := g.router.Resolve(m)
		if prov == nil {
			lastErr = fmt.Errorf("no provider for model %q", m)
			trail = append(trail, g.record(model.ModelAttempt{
				Model: m, Attempt: 1, Category: model.ErrCategoryOther, Error: lastErr.Error(), At: g.cfg.Now(),
			}))
			continue
		}
		if g.tokens != nil {
			metrics.AddPromptTokens(m, g.tokens.Count(p.System+"\n"+p.Text))
		}

		for n := 1; n <= g.cfg.MaxAttempts; n++ {
			if err := ctx.Err(); err != nil {
				return GenerateResult{}, &ExhaustedError{Attempts: trail, Cause: err}
			}

			start := g.cfg.Now()
			actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
			text, err := prov.Generate(actx, m, p, opts)
			cancel()
			att := model.ModelAttempt{Model: m, Attempt: n, At: start, Latency: g.cfg.Now().Sub(start)}

			if err == nil {
				att.Success = true
				trail = append(trail, g.record(att))
				metrics.ObserveModelAttempt(m, "", att.Latency, true)
				g.log.Debug().Str("model", m).Int("attempts", len(trail)).Msg("generation succeeded")
				return GenerateResult{
					Generation: adapter.Generation{Text: text, ModelUsed: m, AttemptCount: len(trail)},
					Attempts:   trail,
				}, nil
			}

			lastErr = err
			att.Error = err.Error()
			if ctx.Err() != nil {
				// parent cancelled mid-call; stop without blaming the model
				att.Category = model.ErrCategoryOther
				trail = append(trail, g.record(att))
				return GenerateResult{}, &ExhaustedError{Attempts: trail, Cause: ctx.Err()}
			}
			att.Category = Classify(err)
			trail = append(trail, g.record(att))
			metrics.ObserveModelAttempt(m, string(att.Category), att.Latency, false)

			g.log.Warn().Err(err).Str("model", m).Int("attempt", n).
				Str("category", string(att.Category)).Msg("model attempt failed")

			if att.Category == model.ErrCategoryUnavailable {
				g.markFailed(m, err)
				break
			}
			if n < g.cfg.MaxAttempts {
				if err := g.cfg.Sleep(ctx, g.backoff(n)); err != nil {
					return GenerateResult{}, &ExhaustedError{Attempts: trail, Cause: err}
				}
			}
		}
	}

	g.log.Error().Err(lastErr).Int("attempts", len(trail)).Msg("all models exhausted")
	return GenerateResult{}, &ExhaustedError{Attempts: trail, Cause: lastErr}
}

// backoff returns base*2^(n-1) capped at MaxDelay.
func (g *Gateway) backoff(n int) time.Duration {
	d := g.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= g.cfg.MaxDelay {
			return g.cfg.MaxDelay
		}
	}
	if d > g.cfg.MaxDelay {
		return g.cfg.MaxDelay
	}
	return d
}

// candidates returns the rotation for one call: preferred first when it is a
// configured model that has not failed, then the rest in configured order.
func (g *Gateway) candidates(preferred string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	out := make([]string, 0, len(g.cfg.Models))
	if preferred != "" {
		for _, m := range g.cfg.Models {
			if m == preferred {
				if _, bad := g.failed[m]; !bad {
					out = append(out, m)
				}
				break
			}
		}
	}
	for _, m := range g.cfg.Models {
		if m == preferred {
			continue
		}
		if _, bad := g.failed[m]; !bad {
			out = append(out, m)
		}
	}
	return out
}

func (g *Gateway) markFailed(m string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.failed[m]; ok {
		return
	}
	g.failed[m] = FailedModel{Model: m, Since: g.cfg.Now(), Reason: err.Error()}
	metrics.SetFailedModels(len(g.failed))
	g.log.Warn().Str("model", m).Time("retry_after", g.nextReset).Msg("model marked unavailable")
}

func (g *Gateway) record(a model.ModelAttempt) model.ModelAttempt {
	g.mu.Lock()
	g.attempts[g.head] = a
	g.head = (g.head + 1) % len(g.attempts)
	if g.head == 0 {
		g.full = true
	}
	g.mu.Unlock()
	return a
}

func (g *Gateway) maybeResetLocked() {
	if now := g.cfg.Now(); !now.Before(g.nextReset) {
		g.resetLocked(now)
	}
}

func (g *Gateway) resetLocked(now time.Time) {
	if len(g.failed) > 0 {
		g.log.Info().Int("models", len(g.failed)).Msg("clearing failed models")
	}
	g.failed = make(map[string]FailedModel)
	g.nextReset = now.Add(g.cfg.ResetInterval)
	metrics.SetFailedModels(0)
	metrics.IncGatewayReset()
}

// Reset clears the failed set immediately.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked(g.cfg.Now())
}

// ResetInterval is how often the background worker should call Reset.
func (g *Gateway) ResetInterval() time.Duration { return g.cfg.ResetInterval }

func (g *Gateway) Status() GatewayStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	st := GatewayStatus{NextReset: g.nextReset}
	for _, m := range g.cfg.Models {
		if f, bad := g.failed[m]; bad {
			st.Failed = append(st.Failed, f)
		} else {
			st.Available = append(st.Available, m)
		}
	}
	if g.full {
		st.RecentAttempts = append(st.RecentAttempts, g.attempts[g.head:]...)
	}
	st.RecentAttempts = append(st.RecentAttempts, g.attempts[:g.head]...)
	return st
}

// AttemptsOf returns the trail of an error produced by Generate, if any.
func AttemptsOf(err error) []model.ModelAttempt {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
