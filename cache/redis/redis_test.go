package redis

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Instinzts/discord-vc-tracker/cache"
)

func newTestBackend(t *testing.T, mutate func(*Config)) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := Config{
		URL:         "redis://" + mr.Addr(),
		KeyPrefix:   "vct:test",
		EnableStats: true,
		DefaultTTL:  time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return mr, r
}

// ==============================
// Construction
// ==============================

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{KeyPrefix: "p"}); err != ErrNoTarget {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
	if _, err := New(Config{URL: "redis://localhost:6379"}); err != ErrNoKeyPrefix {
		t.Fatalf("expected ErrNoKeyPrefix, got %v", err)
	}
}

func TestInjectedClientNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	r, err := New(Config{Client: client, KeyPrefix: "vct:test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The caller's client must survive the backend's Close.
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("injected client was closed: %v", err)
	}
}

// ==============================
// Round trip / TTL / namespacing
// ==============================

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestBackend(t, nil)

	if _, ok := r.Get(ctx, "user:1:2"); ok {
		t.Fatalf("expected miss on empty store")
	}

	r.Set(ctx, "user:1:2", []byte(`{"xp":10}`), 0)
	got, ok := r.Get(ctx, "user:1:2")
	if !ok || !bytes.Equal(got, []byte(`{"xp":10}`)) {
		t.Fatalf("round trip failed: ok=%v val=%q", ok, got)
	}

	// Keys are stored under the deployment namespace.
	if !mr.Exists("vct:test:user:1:2") {
		t.Fatalf("expected namespaced key in store, have %v", mr.Keys())
	}

	r.Delete(ctx, "user:1:2")
	if _, ok := r.Get(ctx, "user:1:2"); ok {
		t.Fatalf("expected miss after delete")
	}
	if st := r.Stats(ctx); st.Deletes != 1 {
		t.Fatalf("completed delete must count once: %+v", st)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestBackend(t, nil)

	r.Set(ctx, "k", []byte("v"), 2*time.Second)
	if _, ok := r.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}

	mr.FastForward(3 * time.Second)

	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after TTL elapsed")
	}
}

func TestHas(t *testing.T) {
	ctx := context.Background()
	_, r := newTestBackend(t, nil)

	r.Set(ctx, "k", []byte("v"), 0)
	if !r.Has(ctx, "k") {
		t.Fatalf("expected Has true")
	}
	if r.Has(ctx, "absent") {
		t.Fatalf("expected Has false")
	}

	st := r.Stats(ctx)
	if st.Hits != 0 || st.Misses != 0 {
		t.Fatalf("Has must not record hits/misses: %+v", st)
	}
}

// ==============================
// Batch
// ==============================

func TestGetMultiSetMulti(t *testing.T) {
	ctx := context.Background()
	_, r := newTestBackend(t, nil)

	r.SetMulti(ctx, []cache.Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}, 0)

	got := r.GetMulti(ctx, []string{"a", "absent", "b"})
	if len(got) != 3 {
		t.Fatalf("expected one slot per key, got %d", len(got))
	}
	if !bytes.Equal(got[0], []byte("1")) || got[1] != nil || !bytes.Equal(got[2], []byte("2")) {
		t.Fatalf("unexpected batch result: %q", got)
	}

	st := r.Stats(ctx)
	if st.Sets != 2 || st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("batch ops must keep per-key stats: %+v", st)
	}
}

// ==============================
// Clear is not a flush
// ==============================

func TestClearLeavesEntries(t *testing.T) {
	ctx := context.Background()
	_, r := newTestBackend(t, nil)

	r.Set(ctx, "a", []byte("1"), 0)
	r.Set(ctx, "b", []byte("2"), 0)

	r.Clear(ctx)

	// Other processes may be mid-write; entries drain via TTL instead.
	for _, k := range []string{"a", "b"} {
		if _, ok := r.Get(ctx, k); !ok {
			t.Fatalf("clear must not delete %q from the shared store", k)
		}
	}
}

func TestStatsSizeScansNamespace(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestBackend(t, nil)

	r.Set(ctx, "a", []byte("1"), 0)
	r.Set(ctx, "b", []byte("2"), 0)
	// A key from another deployment must not be counted.
	mr.Set("other:deploy:key", "x")

	st := r.Stats(ctx)
	if st.Size != 2 {
		t.Fatalf("expected namespace size 2, got %d", st.Size)
	}
}

// ==============================
// Degraded mode
// ==============================

func TestUnreachableStoreDegrades(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestBackend(t, nil)

	r.Set(ctx, "k", []byte("v"), 0)
	mr.Close() // store goes away mid-flight

	// Reads degrade to miss, writes and deletes to no-ops. Nothing panics,
	// nothing propagates.
	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatalf("expected degraded miss with store down")
	}
	r.Set(ctx, "k2", []byte("v2"), 0)
	r.Delete(ctx, "k")
	if r.Has(ctx, "k") {
		t.Fatalf("expected Has false with store down")
	}
	if got := r.GetMulti(ctx, []string{"k", "k2"}); got[0] != nil || got[1] != nil {
		t.Fatalf("expected all-miss batch with store down")
	}
	// Counters record completed operations only; the degraded delete above
	// must not inflate them.
	if st := r.Stats(ctx); st.Deletes != 0 {
		t.Fatalf("degraded delete must not count: %+v", st)
	}
}

// countingLogger tallies Warn calls; each failed dial attempt logs exactly
// one warning.
type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, cache.Fields) {}
func (l *countingLogger) Info(string, cache.Fields)  {}
func (l *countingLogger) Error(string, cache.Fields) {}
func (l *countingLogger) Warn(string, cache.Fields) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *countingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}

// A burst of first uses against an unreachable store must collapse into a
// single dial attempt; everyone else degrades to a miss without touching the
// network.
func TestConcurrentFirstUseCollapsesDial(t *testing.T) {
	ctx := context.Background()
	log := &countingLogger{}
	r, err := New(Config{
		URL:         "redis://127.0.0.1:1",
		KeyPrefix:   "vct:test",
		DialTimeout: 100 * time.Millisecond,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close(ctx)

	const callers = 20
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := r.Get(ctx, "k"); ok {
				t.Errorf("expected miss with no reachable store")
			}
		}()
	}
	close(start)
	wg.Wait()

	// One failed dial for the whole burst: one warning logged and the
	// backoff still at its initial value, not doubled per caller.
	if n := log.warnCount(); n != 1 {
		t.Fatalf("expected one dial failure for %d callers, got %d", callers, n)
	}
	r.mu.Lock()
	backoff := r.backoff
	r.mu.Unlock()
	if backoff != initialBackoff {
		t.Fatalf("backoff = %v after one window, want %v", backoff, initialBackoff)
	}
}

func TestDialBackoffGate(t *testing.T) {
	ctx := context.Background()
	r, err := New(Config{
		// Nothing listens here; dials fail fast.
		URL:         "redis://127.0.0.1:1",
		KeyPrefix:   "vct:test",
		DialTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close(ctx)

	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatalf("expected miss with no reachable store")
	}

	// The failed dial closes the gate; the next call must fail fast without
	// a fresh dial attempt.
	r.mu.Lock()
	gated := time.Now().Before(r.nextDial)
	r.mu.Unlock()
	if !gated {
		t.Fatalf("expected backoff gate after failed dial")
	}

	start := time.Now()
	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatalf("expected gated miss")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("gated call should fail fast, took %v", elapsed)
	}
}

func TestBackoffCapsAndDoubles(t *testing.T) {
	ctx := context.Background()
	r, err := New(Config{
		URL:         "redis://127.0.0.1:1",
		KeyPrefix:   "vct:test",
		DialTimeout: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close(ctx)

	var prev time.Duration
	for i := 0; i < 4; i++ {
		r.mu.Lock()
		r.nextDial = time.Time{} // reopen the gate for the next attempt
		r.mu.Unlock()

		r.Get(ctx, "k")

		r.mu.Lock()
		cur := r.backoff
		r.mu.Unlock()
		if cur < prev {
			t.Fatalf("backoff shrank: %v -> %v", prev, cur)
		}
		if cur > time.Second {
			t.Fatalf("backoff exceeded cap: %v", cur)
		}
		prev = cur
	}
	if prev != time.Second {
		t.Fatalf("expected backoff to reach the cap, got %v", prev)
	}
}
