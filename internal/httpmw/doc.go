// Package httpmw provides HTTP middleware for the public health server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP, rate limiting, OTel tracing,
// trace response headers, metrics, request-scoped logger, access log and
// the chi router. Each middleware is independent and testable on its own.
//
// Query strings are logged because the tag filter is part of the request's
// meaning. Other request headers are never logged.
package httpmw
