package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/projectm/lms-session/internal/clock"
	"github.com/projectm/lms-session/internal/port/outbound"
)

// DefaultTimeout matches the request timeout of the LMS API gateway.
const DefaultTimeout = 30 * time.Second

// DefaultRefreshPath is the token refresh endpoint of the auth service.
const DefaultRefreshPath = "/api/auth/refresh"

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client used for every call. Its Timeout, if
// zero, is set to the gateway timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithTimeout sets the per-request timeout.
// If not set, defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithRefreshPath sets the refresh endpoint path.
func WithRefreshPath(p string) Option {
	return func(g *Gateway) {
		g.refreshPath = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m outbound.MetricsRecorder) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer sets the tracer used for call and refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithClock sets the clock that stamps session.Ended events.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}
