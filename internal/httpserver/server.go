package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/aem-healthcheck/internal/health"
	"github.com/keithlinneman/aem-healthcheck/internal/httpmw"
	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

const (
	livePath  = "/-/healthy"
	readyPath = "/-/ready"
)

// NewHandler builds the public handler: routes plus middleware.
// main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog(httpmw.AccessLogOptions{SkipPaths: []string{livePath, readyPath}}))
	// GET-only service
	r.Use(httpmw.MaxBody(1024))

	r.Get(livePath, health.LiveHandler(opts.Live))
	r.Get(readyPath, health.ReadyHandler(opts.Ready))
	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// Outermost first.
	return httpmw.Chain(r,
		httpmw.SecurityHeaders(httpmw.SecurityHeadersOptions{HSTS: opts.HSTS}),
		recoverMW(L, opts),
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		httpmw.ClientIP(opts.ClientIP),
		opts.RateLimitMW,
		func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "http.server",
				otelhttp.WithFilter(func(r *http.Request) bool {
					return r.URL.Path != livePath && r.URL.Path != readyPath
				}),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
				otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
			)
		},
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(L),
	)
}

func recoverMW(L log.Logger, opts *Options) httpmw.Middleware {
	if !opts.UseRecoverMW {
		return nil
	}
	return httpmw.Recover(L, opts.OnPanic)
}

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

// writeSlack covers encoding and the non-check middleware.
const writeSlack = 5 * time.Second

// WriteTimeoutFor returns a write timeout long enough for the given number
// of checks to run back to back, each allowed up to checkTimeout. It never
// goes below DefaultWriteTimeout.
func WriteTimeoutFor(checkTimeout time.Duration, probes int) time.Duration {
	if checkTimeout <= 0 || probes <= 0 {
		return DefaultWriteTimeout
	}
	return max(checkTimeout*time.Duration(probes)+writeSlack, DefaultWriteTimeout)
}

// NewServer sets the timeouts. A zero writeTimeout means DefaultWriteTimeout.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start the public HTTP server. Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts), opts.WriteTimeout)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
