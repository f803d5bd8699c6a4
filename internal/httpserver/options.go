package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/aem-healthcheck/internal/health"
	"github.com/keithlinneman/aem-healthcheck/internal/httpmw"
	"github.com/keithlinneman/aem-healthcheck/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int

	// WriteTimeout must outlast a full sequential run of the checks; see
	// WriteTimeoutFor. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   httpmw.Middleware
	RateLimitMW httpmw.Middleware
	ClientIP    httpmw.ClientIPOptions
	HSTS        bool

	// Live and Ready are mirrored on the public port for load balancers.
	Live  health.Signal
	Ready health.Signal

	// APIRoutes mounts the aggregate health endpoint.
	APIRoutes func(chi.Router)
}
