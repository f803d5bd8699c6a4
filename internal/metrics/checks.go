package metrics

import (
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/hc"
)

// ObserveCheck implements hc.Observer.
func (m *ServerMetrics) ObserveCheck(name string, status hc.Status, elapsed time.Duration, timedOut bool) {
	m.checkRuns.WithLabelValues(name, status.String()).Inc()
	m.checkDur.WithLabelValues(name).Observe(elapsed.Seconds())
	m.checkStatus.WithLabelValues(name).Set(float64(statusRank(status)))
	if timedOut {
		m.checkTimeouts.WithLabelValues(name).Inc()
	}
}

// ObserveVerdict implements healthhttp.VerdictObserver.
func (m *ServerMetrics) ObserveVerdict(status hc.Status, matched int) {
	m.verdicts.WithLabelValues(status.String()).Inc()
	m.matched.Observe(float64(matched))
}

func statusRank(s hc.Status) int {
	switch s {
	case hc.StatusOK:
		return 0
	case hc.StatusWarn:
		return 1
	default:
		return 2
	}
}
