// Package ratelimit provides per-client rate limiting for the public health
// endpoint.
//
// Every /health request runs the selected checks, so an unthrottled caller
// can keep the service busy. Limits are per client IP, in memory and per
// instance. Load balancer and monitoring networks can be exempted so their
// polling is never throttled. The visitor table is bounded; when it is full,
// unseen clients are rejected until idle entries are evicted.
package ratelimit
