// Package health provides the process-level liveness and readiness signals
// served on /-/healthy and /-/ready, separate from the AEM checks served on
// /health.
//
// Signals combine with [All] and [Any]. [FromErr] adapts an error-returning
// accessor such as hoststate.Store.ReadyErr. [ShutdownGate] fails readiness
// as soon as draining begins so load balancers stop routing before the
// servers shut down.
package health
