//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/repository"
	"health-triage/internal/infra/db/memory"
	"health-triage/internal/infra/lock"
)

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newSession(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := model.NewSession(id, "u1", model.PlatformWeb, model.LangHindi, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendTurn(model.RoleUser, model.KindText, "namaste", model.LangHindi, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	return s
}

type countingRepo struct {
	*memory.SessionRepo
	finds int
}

func (c *countingRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Session, error) {
	c.finds++
	return c.SessionRepo.FindByID(ctx, tx, id)
}

func TestSessionCache_ReadThroughAndWriteThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{SessionRepo: memory.NewSessionRepo()}
	cache := newMemRedis()
	repo := NewSessionRepoCacheDecorator(inner, cache, time.Hour, nopLogger())

	s := newSession(t, "s1")
	if err := repo.Save(ctx, nil, s); err != nil {
		t.Fatal(err)
	}
	if !cache.has(sessionKey("s1")) {
		t.Fatal("save should refresh the cached copy")
	}

	got, err := repo.FindByID(ctx, nil, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if inner.finds != 0 {
		t.Fatalf("cached read reached the store %d times", inner.finds)
	}
	if got.Version != 1 || len(got.Turns) != 1 || got.Language != model.LangHindi {
		t.Fatalf("cached session mismatch: %+v", got)
	}

	_ = cache.Del(ctx, sessionKey("s1"))
	if _, err := repo.FindByID(ctx, nil, "s1"); err != nil {
		t.Fatal(err)
	}
	if inner.finds != 1 || !cache.has(sessionKey("s1")) {
		t.Fatalf("miss should read the store once and warm the cache (finds=%d)", inner.finds)
	}
}

func TestSessionCache_FailedSaveDropsCopy(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewSessionRepo()
	cache := newMemRedis()
	repo := NewSessionRepoCacheDecorator(inner, cache, time.Hour, nopLogger())

	s := newSession(t, "s1")
	if err := repo.Save(ctx, nil, s); err != nil {
		t.Fatal(err)
	}
	stale := s.Clone()
	stale.Version = 0
	if err := repo.Save(ctx, nil, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cache.has(sessionKey("s1")) {
		t.Fatal("conflicting save must invalidate the cached copy")
	}
}

func TestSessionCache_RedisDownFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewSessionRepo()
	cache := newMemRedis()
	repo := NewSessionRepoCacheDecorator(inner, cache, time.Hour, nopLogger())
	if err := repo.Save(ctx, nil, newSession(t, "s1")); err != nil {
		t.Fatal(err)
	}
	cache.failGet = errors.New("connection refused")
	cache.failSet = errors.New("connection refused")
	if _, err := repo.FindByID(ctx, nil, "s1"); err != nil {
		t.Fatalf("redis outage must not fail reads: %v", err)
	}
	if _, err := repo.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	cache := newMemRedis()
	rl := NewRateLimiter(cache)
	key := "rate_limit:turns:u1"
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d rejected: %v", i+1, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth hit inside the window allowed")
	}
	if cache.ttls[key] != time.Minute {
		t.Fatalf("window not set on first hit: %v", cache.ttls[key])
	}
	if ok, _ := rl.Allow(ctx, "rate_limit:turns:u2", 3, time.Minute); !ok {
		t.Fatal("limits must be per user")
	}
}

func TestTranslationCache(t *testing.T) {
	ctx := context.Background()
	c := NewTranslationCache(newMemRedis())
	if _, ok := c.Get(ctx, model.LangHindi, model.LangEnglish, "बुखार"); ok {
		t.Fatal("unexpected hit")
	}
	c.Set(ctx, model.LangHindi, model.LangEnglish, "बुखार", "fever", time.Hour)
	if v, ok := c.Get(ctx, model.LangHindi, model.LangEnglish, "बुखार"); !ok || v != "fever" {
		t.Fatalf("got %q %v", v, ok)
	}
	if _, ok := c.Get(ctx, model.LangEnglish, model.LangHindi, "बुखार"); ok {
		t.Fatal("pairs must not share entries")
	}
}

func TestSessionLocker_SerialisesAndReleases(t *testing.T) {
	cache := newMemRedis()
	l := NewSessionLocker(cache, lock.NewLocal(), time.Minute, nopLogger())
	l.retry = time.Millisecond

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "s1")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders at once", maxSeen)
	}
	if cache.has(lockKey("s1")) {
		t.Fatal("lock key left behind")
	}
}

func TestSessionLocker_HeldElsewhereTimesOut(t *testing.T) {
	cache := newMemRedis()
	// another instance holds the key
	_, _ = cache.SetNX(context.Background(), lockKey("s1"), "other-token", time.Minute)
	l := NewSessionLocker(cache, lock.NewLocal(), time.Minute, nopLogger())
	l.retry = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	// the local slot must have been given back
	release, err := l.local.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	release()
	if v, _ := cache.Get(context.Background(), lockKey("s1")); v != "other-token" {
		t.Fatal("foreign lock must not be touched")
	}
}
