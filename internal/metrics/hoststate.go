package metrics

import (
	"strconv"

	"github.com/keithlinneman/aem-healthcheck/internal/hoststate"
)

// SetSnapshot records the identity of the snapshot now being served. It is
// meant for the watcher's OnSwap hook.
func (m *ServerMetrics) SetSnapshot(meta hoststate.Meta) {
	m.snapshotInfo.Reset()
	m.snapshotInfo.WithLabelValues(string(meta.Source), meta.Version, strconv.FormatBool(meta.Verified)).Set(1)
	if !meta.LoadedAt.IsZero() {
		m.snapshotLoadedTs.Set(float64(meta.LoadedAt.Unix()))
	}
}

// The methods below implement hoststate.WatcherMetrics.

func (m *ServerMetrics) IncWatcherPolls() {
	m.watcherPolls.Inc()
}

func (m *ServerMetrics) IncWatcherSwaps() {
	m.watcherSwaps.Inc()
}

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrors.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObserveSnapshotLoadDuration(seconds float64) {
	m.snapshotLoadDur.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	m.watcherStale.Set(boolGauge(stale))
}
