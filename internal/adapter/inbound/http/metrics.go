// Package http serves the operational endpoints (/metrics, /healthz) of a
// long-running session monitor.
package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/projectm/lms-session/internal/port/outbound"
)

// Metrics holds all Prometheus metrics for lms-session.
// It implements outbound.MetricsRecorder.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RefreshesTotal  *prometheus.CounterVec
	RefreshQueue    prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	IdleExpirations prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lms_session",
				Name:      "requests_total",
				Help:      "Total number of API calls sent through the gateway",
			},
			[]string{"method", "outcome"}, // outcome=ok/client_error/...
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lms_session",
				Name:      "request_duration_seconds",
				Help:      "API call duration in seconds, including refresh and replay",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RefreshesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lms_session",
				Name:      "refreshes_total",
				Help:      "Total access-token refresh round trips",
			},
			[]string{"result"}, // result=success/failure
		),
		RefreshQueue: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lms_session",
				Name:      "refresh_waiters",
				Help:      "Calls queued behind the in-flight refresh",
			},
		),
		SessionsEnded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lms_session",
				Name:      "sessions_ended_total",
				Help:      "Sessions ended, by reason",
			},
			[]string{"reason"},
		),
		IdleExpirations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "lms_session",
				Name:      "idle_expirations_total",
				Help:      "Sessions ended by the inactivity timeout",
			},
		),
	}
}

func (m *Metrics) RequestDone(method, outcome string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RefreshDone(result string) {
	m.RefreshesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshWaiters(n int) {
	m.RefreshQueue.Set(float64(n))
}

func (m *Metrics) SessionEnded(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) IdleExpired() {
	m.IdleExpirations.Inc()
}

var _ outbound.MetricsRecorder = (*Metrics)(nil)
