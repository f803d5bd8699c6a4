// Package hc is the health check core: probes, their results, a registry
// keyed by probe name and an executor that runs the probes selected by a
// tag filter.
//
// A probe never fails its caller. Panics, returned errors and timeouts are
// all folded into a CRITICAL [Result] by the [Executor], so one broken probe
// cannot hide the results of its siblings.
//
// Probes run sequentially within one execution. Independent executions may
// run concurrently, so a [Check] must not keep mutable state between calls.
package hc
