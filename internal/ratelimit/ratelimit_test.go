package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/httpmw"
)

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, opts ...Option) (*IPLimiter, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(ctx, append([]Option{withClock(clk.now)}, opts...)...), clk
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clk := newLimiter(t, WithRate(2, 3))
	for i := 0; i < 3; i++ {
		if !l.allow("192.0.2.1") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.allow("192.0.2.1") {
		t.Fatal("request over burst allowed")
	}
	if !l.allow("192.0.2.2") {
		t.Fatal("other clients have their own bucket")
	}
	clk.advance(500 * time.Millisecond)
	if !l.allow("192.0.2.1") {
		t.Fatal("one token should refill after 500ms at 2/s")
	}
}

func TestAllow_Hooks(t *testing.T) {
	var first, denied []string
	l, _ := newLimiter(t,
		WithRate(1, 1),
		WithOnFirstDenied(func(ip string) { first = append(first, ip) }),
		WithOnDenied(func(ip string) { denied = append(denied, ip) }),
	)
	l.allow("a")
	l.allow("a")
	l.allow("a")
	l.allow("b")
	l.allow("b")

	if len(first) != 2 || first[0] != "a" || first[1] != "b" {
		t.Fatalf("first-denied = %v", first)
	}
	if len(denied) != 3 {
		t.Fatalf("denied = %v", denied)
	}
}

func TestAllow_NilHooks(t *testing.T) {
	l, _ := newLimiter(t, WithRate(1, 1), WithMaxVisitors(1))
	l.allow("a")
	l.allow("a")
	l.allow("b")
}

func TestAllow_Exempt(t *testing.T) {
	l, _ := newLimiter(t, WithRate(1, 1), WithExempt(netip.MustParsePrefix("10.0.0.0/8")))
	for i := 0; i < 10; i++ {
		if !l.allow("10.1.2.3") {
			t.Fatal("exempt client was limited")
		}
	}
	if !l.allow("::ffff:10.1.2.3") {
		t.Fatal("mapped exempt address was limited")
	}
	if l.size() != 0 {
		t.Fatal("exempt clients should not occupy the table")
	}
	l.allow("192.0.2.1")
	if l.allow("192.0.2.1") {
		t.Fatal("non-exempt client should be limited")
	}
}

func TestMaxVisitors(t *testing.T) {
	var capacity int
	l, clk := newLimiter(t,
		WithRate(100, 100),
		WithMaxVisitors(2),
		WithTTL(time.Minute),
		WithOnCapacity(func(string) { capacity++ }),
	)
	l.allow("a")
	l.allow("b")
	if l.allow("c") {
		t.Fatal("new client admitted past capacity")
	}
	if !l.allow("a") {
		t.Fatal("known client should still be served at capacity")
	}
	if capacity != 1 {
		t.Fatalf("capacity hook calls = %d", capacity)
	}

	clk.advance(2 * time.Minute)
	l.evict(clk.now())
	if l.size() != 0 {
		t.Fatalf("size after eviction = %d", l.size())
	}
	if !l.allow("c") {
		t.Fatal("eviction should free capacity")
	}
}

func TestEvict_KeepsActive(t *testing.T) {
	l, clk := newLimiter(t, WithTTL(time.Minute))
	l.allow("old")
	clk.advance(50 * time.Second)
	l.allow("new")
	clk.advance(20 * time.Second)
	l.evict(clk.now())
	if l.size() != 1 {
		t.Fatalf("size = %d, want 1", l.size())
	}
}

func TestEvict_ResetsFirstDenied(t *testing.T) {
	var first int
	l, clk := newLimiter(t, WithRate(1, 1), WithTTL(time.Minute), WithOnFirstDenied(func(string) { first++ }))
	l.allow("a")
	l.allow("a")
	clk.advance(2 * time.Minute)
	l.evict(clk.now())
	l.allow("a")
	l.allow("a")
	if first != 2 {
		t.Fatalf("first-denied calls = %d, want 2", first)
	}
}

func TestCleanup_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &IPLimiter{visitors: map[string]*visitor{}, ttl: time.Millisecond, now: time.Now}
	done := make(chan struct{})
	go func() { l.cleanup(ctx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(t, WithRate(1, 1))
	var reached atomic.Int32
	h := httpmw.ClientIP(httpmw.ClientIPOptions{})(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
	})))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("192.0.2.1:1000"); rec.Code != http.StatusOK {
		t.Fatalf("first: %d", rec.Code)
	}
	rec := do("192.0.2.1:1001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Body.String() != `{"error":"too many requests"}` {
		t.Fatalf("429 response = %v %q", rec.Header(), rec.Body.String())
	}
	if rec := do("192.0.2.2:1000"); rec.Code != http.StatusOK {
		t.Fatalf("other client: %d", rec.Code)
	}
	if reached.Load() != 2 {
		t.Fatalf("handler reached %d times, want 2", reached.Load())
	}
}
