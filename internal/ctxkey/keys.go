// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Stores the logger carrying the request_id field of the current call.
type LoggerKey struct{}

// RetriedKey marks a request context that has already been replayed once
// after a token refresh. Its presence stops a second refresh attempt.
type RetriedKey struct{}

// RequestIDKey is the context key for the X-Request-ID of the current call.
type RequestIDKey struct{}
