//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/infra/adapters/ai"
	"health-triage/internal/infra/api"
	apiv1 "health-triage/internal/infra/api/apiv1"
	"health-triage/internal/usecase"
)

//
// ---------------- fakes ----------------
//

type fakeSessions struct {
	mu       sync.Mutex
	last     usecase.TurnRequest
	turnErr  error
	getErr   error
	endErr   error
	resolved []string
	ended    []string
}

func (f *fakeSessions) HandleTurn(_ context.Context, req usecase.TurnRequest) (*usecase.TurnResponse, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	id := req.SessionID
	if id == "" {
		id = "new-session"
	}
	return &usecase.TurnResponse{
		SessionID: id,
		Status:    model.SessionActive,
		Reply:     model.Turn{ID: "t2", Seq: 2, Role: model.RoleAssistant, Content: "Hello! How can I help?"},
		Intent:    model.IntentGreeting,
	}, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*model.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Session{ID: id, UserID: "u1", Status: model.SessionActive, Language: model.LangHindi}, nil
}

func (f *fakeSessions) EndSession(_ context.Context, id string) error {
	if f.endErr != nil {
		return f.endErr
	}
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeSessions) ResolveEscalation(_ context.Context, id string) (*model.Session, error) {
	if id != "esc" {
		return nil, fmt.Errorf("%w: session %s is active", domain.ErrInvalidTransition, id)
	}
	f.resolved = append(f.resolved, id)
	return &model.Session{ID: id, Status: model.SessionCompleted}, nil
}

func (f *fakeSessions) ReapIdle(context.Context, time.Time, int) (int, error) { return 0, nil }

type fakeGateway struct{ resets int }

func (g *fakeGateway) Status() ai.GatewayStatus {
	st := ai.GatewayStatus{Available: []string{"gemini-2.0-flash"}}
	if g.resets == 0 {
		st.Failed = []ai.FailedModel{{Model: "gpt-4o-mini", Reason: "quota exceeded"}}
	}
	return st
}

func (g *fakeGateway) Reset() { g.resets++ }

type fakeLimiter struct {
	hits  map[string]int
	err   error
	limit int
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.hits[key]++
	l.limit = limit
	return l.hits[key] <= limit, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

//
// -------------------- helpers --------------------
//

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

const secret = "test-secret"

func newRouter(sessions *fakeSessions, gw *fakeGateway, opts apiv1.Options) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = api.NewAuthManager(secret, time.Hour)
	}
	r := chi.NewRouter()
	srv := apiv1.NewServer(sessions, gw, opts, newLogger())
	apiv1.RegisterAPIV1(r, srv)
	return r
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func adminHeader(t *testing.T) map[string]string {
	t.Helper()
	tok, err := api.NewAuthManager(secret, time.Hour).Mint("operator-1")
	if err != nil {
		t.Fatal(err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiv1.ErrorBody {
	t.Helper()
	var body apiv1.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

//
// -------------------- tests --------------------
//

func TestTurns_Submit(t *testing.T) {
	t.Run("new session returns 201", func(t *testing.T) {
		sessions := &fakeSessions{}
		r := newRouter(sessions, &fakeGateway{}, apiv1.Options{})

		body := `{"user_id":"u1","text":"hello","language":"hi-IN","platform":"voice","image":{"data":"aGk=","mime_type":"image/png"}}`
		rec := do(r, http.MethodPost, "/api/v1/turns", body, map[string]string{"Idempotency-Key": "k-1"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("want 201, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var resp usecase.TurnResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.SessionID != "new-session" || resp.Reply.Content == "" {
			t.Fatalf("response mismatch: %+v", resp)
		}
		got := sessions.last
		if got.IdempotencyKey != "k-1" || got.Language != "hi-IN" || got.Platform != "voice" {
			t.Fatalf("request not forwarded: %+v", got)
		}
		if got.Image == nil || string(got.Image.Data) != "hi" || got.Image.MIMEType != "image/png" {
			t.Fatalf("image not decoded: %+v", got.Image)
		}
	})

	t.Run("existing session returns 200", func(t *testing.T) {
		r := newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{})
		rec := do(r, http.MethodPost, "/api/v1/turns", `{"session_id":"s1","user_id":"u1","text":"hi"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("bad requests return 400", func(t *testing.T) {
		r := newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{})
		for name, body := range map[string]string{
			"missing body":  "",
			"bad json":      `{"user_id":`,
			"unknown field": `{"user_id":"u1","text":"hi","colour":"red"}`,
			"no user":       `{"text":"hi"}`,
		} {
			rec := do(r, http.MethodPost, "/api/v1/turns", body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s: want 400, got %d", name, rec.Code)
			}
			if e := decodeError(t, rec); e.Error != "invalid_argument" {
				t.Fatalf("%s: code %q", name, e.Error)
			}
		}
	})
}

func TestTurns_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		name string
	}{
		{fmt.Errorf("load: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: \"fr\"", domain.ErrUnsupportedLanguage), http.StatusBadRequest, "unsupported_language"},
		{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
		{domain.ErrSessionClosed, http.StatusConflict, "session_closed"},
		{domain.ErrSessionEscalated, http.StatusConflict, "session_escalated"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		r := newRouter(&fakeSessions{turnErr: tt.err}, &fakeGateway{}, apiv1.Options{})
		rec := do(r, http.MethodPost, "/api/v1/turns", `{"session_id":"s1","user_id":"u1","text":"hi"}`, nil)
		if rec.Code != tt.code {
			t.Fatalf("%v: want %d, got %d", tt.err, tt.code, rec.Code)
		}
		e := decodeError(t, rec)
		if e.Error != tt.name {
			t.Fatalf("%v: code %q", tt.err, e.Error)
		}
		if tt.code == http.StatusInternalServerError && e.Message != "internal error" {
			t.Fatalf("internal error leaked: %q", e.Message)
		}
	}
}

func TestTurns_RateLimited(t *testing.T) {
	lim := &fakeLimiter{hits: map[string]int{}}
	r := newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{Limiter: lim, TurnsPerMinute: 2})
	body := `{"session_id":"s1","user_id":"u1","text":"hi"}`
	for i := 0; i < 2; i++ {
		if rec := do(r, http.MethodPost, "/api/v1/turns", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("turn %d: %d", i+1, rec.Code)
		}
	}
	rec := do(r, http.MethodPost, "/api/v1/turns", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After %q", rec.Header().Get("Retry-After"))
	}
	if rec := do(r, http.MethodPost, "/api/v1/turns", `{"session_id":"s2","user_id":"u2","text":"hi"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("other user limited: %d", rec.Code)
	}

	lim.err = errors.New("redis down")
	if rec := do(r, http.MethodPost, "/api/v1/turns", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("limiter outage must fail open, got %d", rec.Code)
	}
}

func TestSessions_GetAndEnd(t *testing.T) {
	sessions := &fakeSessions{}
	r := newRouter(sessions, &fakeGateway{}, apiv1.Options{})

	rec := do(r, http.MethodGet, "/api/v1/sessions/s1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var s model.Session
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.ID != "s1" || s.Language != model.LangHindi {
		t.Fatalf("session mismatch: %+v", s)
	}

	if rec := do(r, http.MethodDelete, "/api/v1/sessions/s1", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
	if len(sessions.ended) != 1 || sessions.ended[0] != "s1" {
		t.Fatalf("end not forwarded: %v", sessions.ended)
	}

	sessions.getErr = domain.ErrNotFound
	if rec := do(r, http.MethodGet, "/api/v1/sessions/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	r := newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{})

	if rec := do(r, http.MethodGet, "/api/v1/admin/gateway", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", rec.Code)
	}
	forged, _ := api.NewAuthManager("other-secret", time.Hour).Mint("mallory")
	if rec := do(r, http.MethodGet, "/api/v1/admin/gateway", "", map[string]string{"Authorization": "Bearer " + forged}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: want 401, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/v1/admin/gateway", "", adminHeader(t)); rec.Code != http.StatusOK {
		t.Fatalf("valid token: want 200, got %d", rec.Code)
	}
}

func TestAdmin_ResolveEscalation(t *testing.T) {
	sessions := &fakeSessions{}
	r := newRouter(sessions, &fakeGateway{}, apiv1.Options{})

	rec := do(r, http.MethodPost, "/api/v1/admin/sessions/esc/resolve", "", adminHeader(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if len(sessions.resolved) != 1 {
		t.Fatal("resolve not forwarded")
	}
	rec = do(r, http.MethodPost, "/api/v1/admin/sessions/s1/resolve", "", adminHeader(t))
	if rec.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", rec.Code)
	}
}

func TestAdmin_GatewayStatusAndReset(t *testing.T) {
	gw := &fakeGateway{}
	r := newRouter(&fakeSessions{}, gw, apiv1.Options{})

	rec := do(r, http.MethodGet, "/api/v1/admin/gateway", "", adminHeader(t))
	var st ai.GatewayStatus
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if len(st.Failed) != 1 || st.Failed[0].Model != "gpt-4o-mini" {
		t.Fatalf("status mismatch: %+v", st)
	}

	rec = do(r, http.MethodPost, "/api/v1/admin/gateway/reset", "", adminHeader(t))
	if rec.Code != http.StatusOK || gw.resets != 1 {
		t.Fatalf("reset: code %d resets %d", rec.Code, gw.resets)
	}
	st = ai.GatewayStatus{}
	_ = json.NewDecoder(rec.Body).Decode(&st)
	if len(st.Failed) != 0 {
		t.Fatalf("failed models after reset: %+v", st.Failed)
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{Health: map[string]apiv1.Pinger{"db": pinger{}}})
	if rec := do(r, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	r = newRouter(&fakeSessions{}, &fakeGateway{}, apiv1.Options{Health: map[string]apiv1.Pinger{
		"db":    pinger{},
		"redis": pinger{err: errors.New("connection refused")},
	}})
	rec := do(r, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "degraded" || body.Checks["db"] != "ok" {
		t.Fatalf("health body %+v", body)
	}
}
