// Package apiv1 is the caller-facing JSON API over the session manager.
package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/ports/adapter"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/adapters/ai"
	"health-triage/internal/infra/api"
	"health-triage/internal/infra/logging"
	"health-triage/internal/infra/metrics"
	"health-triage/internal/usecase"
)

const maxBodyBytes = 4 << 20 // room for one inline image

// GatewayAdmin is the operator view of the model gateway.
type GatewayAdmin interface {
	Status() ai.GatewayStatus
	Reset()
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Auth *api.AuthManager
	// Limiter and TurnsPerMinute cap turns per user; nil or 0 disables it.
	Limiter        repository.RateLimiter
	TurnsPerMinute int
	// Health lists dependencies checked by /health.
	Health map[string]Pinger
}

type Server struct {
	sessions usecase.SessionUseCase
	gateway  GatewayAdmin
	opts     Options
	log      *zerolog.Logger
}

func NewServer(sessions usecase.SessionUseCase, gateway GatewayAdmin, opts Options, logger *zerolog.Logger) *Server {
	compLog := logger.With().Str("component", "apiv1").Logger()
	return &Server{sessions: sessions, gateway: gateway, opts: opts, log: &compLog}
}

// RegisterAPIV1 mounts every route on r at absolute paths.
func RegisterAPIV1(r chi.Router, srv *Server) {
	r.Get("/health", srv.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/turns", srv.submitTurn)
		r.Get("/sessions/{id}", srv.getSession)
		r.Delete("/sessions/{id}", srv.endSession)

		r.Group(func(r chi.Router) {
			r.Use(api.AdminAuth(srv.opts.Auth, srv.log))
			r.Post("/admin/sessions/{id}/resolve", srv.resolveEscalation)
			r.Get("/admin/gateway", srv.gatewayStatus)
			r.Post("/admin/gateway/reset", srv.gatewayReset)
		})
	})
}

type Image struct {
	// Data is base64 in JSON.
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

type TurnRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	UserID         string `json:"user_id"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
	Platform       string `json:"platform,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Image          *Image `json:"image,omitempty"`
}

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, r, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument))
		return
	}
	ctx := logging.WithUserID(r.Context(), req.UserID)
	if req.SessionID != "" {
		ctx = logging.WithSessID(ctx, req.SessionID)
	}

	if s.opts.Limiter != nil && s.opts.TurnsPerMinute > 0 {
		ok, err := s.opts.Limiter.Allow(ctx, "rate_limit:turns:"+req.UserID, s.opts.TurnsPerMinute, time.Minute)
		if err != nil {
			// limiter outages must not block patients
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncRateLimited()
			w.Header().Set("Retry-After", api.RetryAfter(time.Minute))
			s.writeError(w, r, domain.ErrRateLimited)
			return
		}
	}

	in := usecase.TurnRequest{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		Text:           req.Text,
		Language:       req.Language,
		Platform:       req.Platform,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		in.Image = &adapter.InlineImage{Data: req.Image.Data, MIMEType: req.Image.MIMEType}
	}
	resp, err := s.sessions.HandleTurn(ctx, in)
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	code := http.StatusOK
	if req.SessionID == "" {
		code = http.StatusCreated
	}
	writeJSON(w, code, resp)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.ResolveEscalation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Status())
}

func (s *Server) gatewayReset(w http.ResponseWriter, r *http.Request) {
	s.gateway.Reset()
	logging.With(r.Context(), s.log).Info().Msg("gateway reset by operator")
	writeJSON(w, http.StatusOK, s.gateway.Status())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := make(map[string]string, len(s.opts.Health))
	code := http.StatusOK
	for name, p := range s.opts.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// statusFor maps domain errors onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnsupportedLanguage):
		return http.StatusBadRequest, "unsupported_language"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrSessionEscalated):
		return http.StatusConflict, "session_escalated"
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, name := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, ErrorBody{Error: name, Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
