package httpmw

import (
	"context"
	"net/http"
	"sync"

	"github.com/keithlinneman/aem-healthcheck/internal/log"
)

type logLine struct {
	level string
	msg   string
	err   error
	kv    map[string]any
}

// recLogger records every call, including fields added through With.
type recLogger struct {
	mu    *sync.Mutex
	lines *[]logLine
	base  []any
}

func newRecLogger() *recLogger {
	return &recLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (l *recLogger) With(kv ...any) log.Logger {
	return &recLogger{mu: l.mu, lines: l.lines, base: append(append([]any{}, l.base...), kv...)}
}

func (l *recLogger) record(level string, err error, msg string, kv []any) {
	all := append(append([]any{}, l.base...), kv...)
	m := make(map[string]any, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, logLine{level: level, msg: msg, err: err, kv: m})
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.record("debug", nil, msg, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.record("info", nil, msg, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.record("warn", nil, msg, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.record("error", err, msg, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) all() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logLine(nil), *l.lines...)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
