package hoststate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/aem-healthcheck/internal/log"
	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher asks the source for its version.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive version errors.
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange     pollResult = iota
	pollSwapped                 // new version loaded and published
	pollVersionError            // source unreachable; caller backs off
	pollLoadError               // version changed but load/verify/decode failed
)

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveSnapshotLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Source       Source
	Store        *Store
	PollInterval time.Duration

	// OnSwap runs on the poll goroutine after each publish.
	OnSwap func(meta Meta)

	Metrics WatcherMetrics

	// StaleThreshold is how long version polls may fail before the watcher
	// reports the data as stale. Zero means 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls a Source and publishes new snapshots into a Store.
type Watcher struct {
	source   Source
	store    *Store
	logger   log.Logger
	interval time.Duration
	onSwap   func(Meta)
	metrics  WatcherMetrics

	currentVersion  string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stale := opts.StaleThreshold
	if stale <= 0 {
		stale = 30 * time.Minute
	}
	w := &Watcher{
		source:         opts.Source,
		store:          opts.Store,
		logger:         opts.Logger,
		interval:       interval,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		staleThreshold: stale,
		lastSuccessAt:  time.Now(),
	}
	// a snapshot loaded at startup should not be loaded again on the first poll
	if snap, ok := opts.Store.Get(); ok {
		w.currentVersion = snap.Meta.Version
	}
	return w
}

// LoadInitial performs one synchronous load so readiness can flip before
// the first tick. Failure leaves the store empty and is returned.
func (w *Watcher) LoadInitial(ctx context.Context) error {
	switch w.checkOnce(ctx) {
	case pollVersionError:
		return xerrors.Newf("initial %s version poll failed", w.source.Kind())
	case pollLoadError:
		return xerrors.Newf("initial %s snapshot load failed", w.source.Kind())
	}
	if _, ok := w.store.Get(); !ok {
		return xerrors.WithStack(ErrNoSnapshot)
	}
	return nil
}

// Run polls until ctx is cancelled. Launch it as: go w.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "host state watcher starting",
		"source", string(w.source.Kind()),
		"poll_interval", w.interval.String(),
		"current_version", w.currentVersion,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "host state watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollVersionError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "host state watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "host state watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			w.trackStaleness(ctx, result)
		}
	}
}

func (w *Watcher) trackStaleness(ctx context.Context, result pollResult) {
	if result != pollVersionError {
		if w.staleLogged {
			w.logger.Info(ctx, "host state watcher: staleness recovered")
			w.staleLogged = false
			if w.metrics != nil {
				w.metrics.SetWatcherStale(false)
			}
		}
		return
	}
	since := time.Since(w.lastSuccessAt)
	if since <= w.staleThreshold || w.staleLogged {
		return
	}
	w.logger.Error(ctx, fmt.Errorf("last successful poll was %s ago", since.Truncate(time.Second)),
		"host state watcher: host state is stale",
	)
	w.staleLogged = true
	if w.metrics != nil {
		w.metrics.SetWatcherStale(true)
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	version, err := w.source.Version(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "host state watcher: version poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("version")
		}
		return pollVersionError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if version == w.currentVersion {
		return pollNoChange
	}

	w.logger.Info(ctx, "host state watcher: new version detected",
		"old_version", w.currentVersion,
		"new_version", version,
	)

	start := time.Now()
	snap, err := w.source.Load(ctx)
	if w.metrics != nil {
		w.metrics.ObserveSnapshotLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "host state watcher: load failed, keeping current snapshot",
			"version", version,
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	w.store.Set(*snap)
	w.swapCount++
	old := w.currentVersion
	// prefer the version the load observed; the object may have moved on
	// between Version and Load
	w.currentVersion = snap.Meta.Version
	if w.currentVersion == "" {
		w.currentVersion = version
	}

	w.logger.Info(ctx, "host state watcher: snapshot swapped",
		"old_version", old,
		"new_version", w.currentVersion,
		"captured_at", snap.CapturedAt,
		"total_swaps", w.swapCount,
	)
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	if w.onSwap != nil {
		meta := snap.Meta
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"host state watcher: OnSwap callback panicked, continuing",
					)
				}
			}()
			w.onSwap(meta)
		}()
	}
	return pollSwapped
}

// backoffDuration is interval * 2^consecutiveErrs, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
