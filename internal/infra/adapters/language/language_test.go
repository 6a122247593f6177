//go:build !integration

package language

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
)

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func TestDetectScript(t *testing.T) {
	tests := []struct {
		text string
		want model.Language
	}{
		{"I have fever", model.LangEnglish},
		{"मुझे बुखार है", model.LangHindi},
		{"আমার জ্বর", model.LangBengali},
		{"எனக்கு காய்ச்சல்", model.LangTamil},
		{"నాకు జ్వరం", model.LangTelugu},
		{"મને તાવ છે", model.LangGujarati},
		{"ನನಗೆ ಜ್ವರ", model.LangKannada},
		{"എനിക്ക് പനി", model.LangMalayalam},
		{"ਮੈਨੂੰ ਬੁਖਾਰ ਹੈ", model.LangPunjabi},
		{"मुझे fever है", model.LangHindi},
	}
	for _, tt := range tests {
		got, err := DetectScript(tt.text)
		if err != nil {
			t.Fatalf("%q: %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %s want %s", tt.text, got, tt.want)
		}
	}
	for _, text := range []string{"", "123 !!", "😷"} {
		if _, err := DetectScript(text); !errors.Is(err, ErrUndetected) {
			t.Errorf("%q: expected ErrUndetected, got %v", text, err)
		}
	}
}

type fakeGen struct {
	calls   int32
	block   chan struct{}
	err     error
	lastSys string
	mu      sync.Mutex
}

func (f *fakeGen) Generate(ctx context.Context, _ string, p adapter.Prompt, _ adapter.GenerateOptions) (adapter.Generation, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastSys = p.System
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return adapter.Generation{}, err
	}
	if f.err != nil {
		return adapter.Generation{}, f.err
	}
	return adapter.Generation{Text: "  translated(" + p.Text + ")\n", ModelUsed: "m1", AttemptCount: 1}, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) Get(_ context.Context, from, to model.Language, text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[string(from)+string(to)+text]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, from, to model.Language, text, translated string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[string(from)+string(to)+text] = translated
}

func TestModelService_TranslateCachesResult(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{}
	cache := &mapCache{data: map[string]string{}}
	svc := NewModelService(gen, cache, time.Hour, nopLogger())

	got, err := svc.Translate(ctx, "बुखार", model.LangHindi, model.LangEnglish)
	if err != nil {
		t.Fatal(err)
	}
	if got != "translated(बुखार)" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(gen.lastSys, "from Hindi to English") {
		t.Fatalf("system prompt %q", gen.lastSys)
	}
	if _, err := svc.Translate(ctx, "बुखार", model.LangHindi, model.LangEnglish); err != nil {
		t.Fatal(err)
	}
	if gen.calls != 1 {
		t.Fatalf("cached translation called the model %d times", gen.calls)
	}
}

func TestModelService_SameLanguageAndEmptyAreNoops(t *testing.T) {
	gen := &fakeGen{}
	svc := NewModelService(gen, nil, time.Hour, nopLogger())
	if got, _ := svc.Translate(context.Background(), "hello", model.LangEnglish, model.LangEnglish); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got, _ := svc.Translate(context.Background(), "  ", model.LangHindi, model.LangEnglish); got != "  " {
		t.Fatalf("got %q", got)
	}
	if gen.calls != 0 {
		t.Fatal("model called for a no-op translation")
	}
	if _, err := svc.Translate(context.Background(), "hola", "es", model.LangEnglish); !errors.Is(err, domain.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestModelService_ErrorsAreNotCached(t *testing.T) {
	gen := &fakeGen{err: domain.ErrAllModelsFailed}
	cache := &mapCache{data: map[string]string{}}
	svc := NewModelService(gen, cache, time.Hour, nopLogger())
	if _, err := svc.Translate(context.Background(), "बुखार", model.LangHindi, model.LangEnglish); !errors.Is(err, domain.ErrAllModelsFailed) {
		t.Fatalf("expected wrapped gateway error, got %v", err)
	}
	if len(cache.data) != 0 {
		t.Fatal("failed translation cached")
	}
}

func TestModelService_ConcurrentCallsShareOneRequest(t *testing.T) {
	gen := &fakeGen{block: make(chan struct{})}
	svc := NewModelService(gen, nil, time.Hour, nopLogger())

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Translate(context.Background(), "खांसी", model.LangHindi, model.LangEnglish)
		}(i)
	}
	// let every caller join the in-flight request before releasing it
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&gen.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(gen.block)
	wg.Wait()

	if c := atomic.LoadInt32(&gen.calls); c != 1 {
		t.Fatalf("%d model calls for identical text", c)
	}
	for i, r := range results {
		if r != "translated(खांसी)" {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
}

func TestPassthroughService(t *testing.T) {
	svc := NewPassthroughService()
	got, err := svc.Translate(context.Background(), "बुखार", model.LangHindi, model.LangEnglish)
	if err != nil || got != "बुखार" {
		t.Fatalf("got %q %v", got, err)
	}
	if l, _ := svc.Detect(context.Background(), "बुखार"); l != model.LangHindi {
		t.Fatalf("detected %s", l)
	}
}

func TestModelService_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	gen := &fakeGen{block: make(chan struct{})}
	svc := NewModelService(gen, nil, time.Hour, nopLogger())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = svc.Translate(leaderCtx, "सिरदर्द", model.LangHindi, model.LangEnglish)
	}()
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&gen.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	waiter := make(chan string, 1)
	go func() {
		out, err := svc.Translate(context.Background(), "सिरदर्द", model.LangHindi, model.LangEnglish)
		if err != nil {
			out = "error: " + err.Error()
		}
		waiter <- out
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(gen.block)

	if got := <-waiter; got != "translated(सिरदर्द)" {
		t.Fatalf("waiter got %q", got)
	}
	<-leaderDone
	if c := atomic.LoadInt32(&gen.calls); c != 1 {
		t.Fatalf("%d model calls", c)
	}
}
