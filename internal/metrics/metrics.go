// Package metrics owns the prometheus registry served on the admin
// /metrics endpoint. ServerMetrics implements the observer hooks of the hc,
// healthhttp, hoststate and ratelimit packages.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/aem-healthcheck/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	panicTotal  prometheus.Counter

	rateLimitDenied   prometheus.Counter
	rateLimitCapacity prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// checks
	checkRuns     *prometheus.CounterVec
	checkDur      *prometheus.HistogramVec
	checkTimeouts *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	verdicts      *prometheus.CounterVec
	matched       prometheus.Histogram

	// host state
	snapshotInfo     *prometheus.GaugeVec
	snapshotLoadedTs prometheus.Gauge
	watcherPolls     prometheus.Counter
	watcherSwaps     prometheus.Counter
	watcherErrors    *prometheus.CounterVec
	snapshotLoadDur  prometheus.Histogram
	watcherSuccessTs prometheus.Gauge
	watcherStale     prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors and every
// metric below. Labels are bounded: HTTP routes come from chi patterns and
// check names from the registry.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses other than 503 by method and route (503 is a health verdict)",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the per-client rate limiter",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total requests rejected because the limiter table was full",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),

		checkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_runs_total",
			Help: "Health check executions by check and resulting status",
		}, []string{"check", "status"}),
		checkDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthcheck_duration_seconds",
			Help:    "Health check execution time by check",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"check"}),
		checkTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_timeouts_total",
			Help: "Health check executions abandoned at the deadline",
		}, []string{"check"}),
		checkStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthcheck_status",
			Help: "Last status per check: 0 OK, 1 WARN, 2 CRITICAL",
		}, []string{"check"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_endpoint_verdicts_total",
			Help: "Aggregate health endpoint responses by overall status",
		}, []string{"status"}),
		matched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthcheck_endpoint_matched_checks",
			Help:    "Number of checks selected by each health endpoint request",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		snapshotInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hoststate_snapshot_info",
			Help: "Active host state snapshot (labels carry identity, value is always 1)",
		}, []string{"source", "version", "verified"}),
		snapshotLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hoststate_snapshot_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the active snapshot was loaded",
		}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hoststate_watcher_polls_total",
			Help: "Total number of watcher poll cycles",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hoststate_watcher_swaps_total",
			Help: "Total number of snapshot swaps",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hoststate_watcher_errors_total",
			Help: "Total watcher errors by type",
		}, []string{"type"}),
		snapshotLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hoststate_snapshot_load_duration_seconds",
			Help:    "Time to fetch, verify, and decode a snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		watcherSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hoststate_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hoststate_watcher_stale",
			Help: "Whether the watcher has not succeeded within its threshold (1) or is healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.panicTotal,
		m.rateLimitDenied,
		m.rateLimitCapacity,
		m.buildInfo,
		m.profilingActive,
		m.checkRuns,
		m.checkDur,
		m.checkTimeouts,
		m.checkStatus,
		m.verdicts,
		m.matched,
		m.snapshotInfo,
		m.snapshotLoadedTs,
		m.watcherPolls,
		m.watcherSwaps,
		m.watcherErrors,
		m.snapshotLoadDur,
		m.watcherSuccessTs,
		m.watcherStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.panicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.rateLimitDenied.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.rateLimitCapacity.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
