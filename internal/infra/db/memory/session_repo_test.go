//go:build !integration

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
)

func newSession(t *testing.T, at time.Time) *model.Session {
	t.Helper()
	s, err := model.NewSession("", "u1", model.PlatformWeb, model.LangEnglish, at)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionRepo_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	r := NewSessionRepo()
	now := time.Now()
	s := newSession(t, now)
	if _, err := s.AppendTurn(model.RoleUser, model.KindText, "hello", model.LangEnglish, nil, now); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, nil, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.Version != 1 {
		t.Fatalf("version not bumped: %d", s.Version)
	}
	got, err := r.FindByID(ctx, nil, s.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got.Turns[0].Content = "mutated"
	again, _ := r.FindByID(ctx, nil, s.ID)
	if again.Turns[0].Content != "hello" {
		t.Fatal("stored session shares memory with callers")
	}
	if _, err := r.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepo_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	r := NewSessionRepo()
	s := newSession(t, time.Now())
	_ = r.Save(ctx, nil, s)

	a, _ := r.FindByID(ctx, nil, s.ID)
	b, _ := r.FindByID(ctx, nil, s.ID)
	if err := r.Save(ctx, nil, a); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, nil, b); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on stale save, got %v", err)
	}
}

func TestSessionRepo_ListIdle(t *testing.T) {
	ctx := context.Background()
	r := NewSessionRepo()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old := newSession(t, base)
	older := newSession(t, base.Add(-time.Hour))
	fresh := newSession(t, base.Add(3*time.Hour))
	done := newSession(t, base.Add(-2*time.Hour))
	_ = done.Transition(model.SessionCompleted)
	for _, s := range []*model.Session{old, older, fresh, done} {
		if err := r.Save(ctx, nil, s); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := r.ListIdle(ctx, nil, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != older.ID || ids[1] != old.ID {
		t.Fatalf("unexpected idle list %v", ids)
	}
	if ids, _ := r.ListIdle(ctx, nil, base.Add(time.Hour), 1); len(ids) != 1 {
		t.Fatalf("limit ignored: %v", ids)
	}
}
