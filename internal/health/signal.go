package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Signal is evaluated per request. nil means pass; the error is the reason.
type Signal interface{ Check(context.Context) error }

// SignalFunc adapts a function into a Signal.
type SignalFunc func(context.Context) error

func (f SignalFunc) Check(ctx context.Context) error { return f(ctx) }

// Up always passes.
func Up() SignalFunc {
	return func(context.Context) error { return nil }
}

// Down always fails with reason.
func Down(reason string) SignalFunc {
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// FromErr wraps an accessor that reports its own readiness.
func FromErr(f func() error) SignalFunc {
	return func(context.Context) error {
		if f == nil {
			return nil
		}
		return f()
	}
}

// All passes only if every signal passes and returns the first failure.
// nil signals are skipped.
func All(ss ...Signal) SignalFunc {
	return func(ctx context.Context) error {
		for _, s := range ss {
			if s == nil {
				continue
			}
			if err := s.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes if at least one signal passes, otherwise it returns the last
// failure.
func Any(ss ...Signal) SignalFunc {
	return func(ctx context.Context) error {
		var last error
		for _, s := range ss {
			if s == nil {
				continue
			}
			err := s.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return xerrors.New("no passing signals")
		}
		return last
	}
}

// ShutdownGate fails readiness once draining begins.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Pointer[string]
}

// Begin marks the process as draining.
func (g *ShutdownGate) Begin(reason string) {
	g.reason.Store(&reason)
	g.draining.Store(true)
}

// Reset clears a previous Begin.
func (g *ShutdownGate) Reset() {
	g.draining.Store(false)
	g.reason.Store(nil)
}

func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Signal() SignalFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		if r := g.reason.Load(); r != nil && *r != "" {
			return xerrors.New(*r)
		}
		return xerrors.New("draining")
	}
}

// LiveHandler answers 200 "ok" while s passes, 503 with the reason otherwise.
func LiveHandler(s Signal) http.HandlerFunc {
	return handler(s, "ok\n")
}

// ReadyHandler answers 200 "ready" while s passes, 503 with the reason
// otherwise.
func ReadyHandler(s Signal) http.HandlerFunc {
	return handler(s, "ready\n")
}

func handler(s Signal, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if s != nil {
			if err := s.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
