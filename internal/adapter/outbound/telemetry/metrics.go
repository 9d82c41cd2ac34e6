package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/projectm/lms-session/internal/port/outbound"
)

// Recorder implements outbound.MetricsRecorder with OpenTelemetry
// instruments.
type Recorder struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	refreshes  metric.Int64Counter
	waiters    metric.Int64Gauge
	ended      metric.Int64Counter
	expiration metric.Int64Counter
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error
	if r.requests, err = meter.Int64Counter("lms_session.requests",
		metric.WithDescription("API calls sent through the gateway")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("lms_session.request.duration",
		metric.WithDescription("API call duration including refresh and replay"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.refreshes, err = meter.Int64Counter("lms_session.refreshes",
		metric.WithDescription("Access-token refresh round trips")); err != nil {
		return nil, err
	}
	if r.waiters, err = meter.Int64Gauge("lms_session.refresh.waiters",
		metric.WithDescription("Calls queued behind the in-flight refresh")); err != nil {
		return nil, err
	}
	if r.ended, err = meter.Int64Counter("lms_session.sessions_ended",
		metric.WithDescription("Sessions ended, by reason")); err != nil {
		return nil, err
	}
	if r.expiration, err = meter.Int64Counter("lms_session.idle_expirations",
		metric.WithDescription("Sessions ended by the inactivity timeout")); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewStdoutRecorder returns a Recorder whose measurements are written to w
// every interval and once more on shutdown.
func NewStdoutRecorder(w io.Writer, interval time.Duration) (*Recorder, ShutdownFunc, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	rec, err := NewRecorder(mp.Meter(InstrumentationName))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, err
	}
	return rec, mp.Shutdown, nil
}

func (r *Recorder) RequestDone(method, outcome string, d time.Duration) {
	ctx := context.Background()
	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
	r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("method", method)))
}

func (r *Recorder) RefreshDone(result string) {
	r.refreshes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *Recorder) RefreshWaiters(n int) {
	r.waiters.Record(context.Background(), int64(n))
}

func (r *Recorder) SessionEnded(reason string) {
	r.ended.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) IdleExpired() {
	r.expiration.Add(context.Background(), 1)
}

// Multi fans measurements out to several recorders.
type Multi []outbound.MetricsRecorder

func (m Multi) RequestDone(method, outcome string, d time.Duration) {
	for _, r := range m {
		r.RequestDone(method, outcome, d)
	}
}

func (m Multi) RefreshDone(result string) {
	for _, r := range m {
		r.RefreshDone(result)
	}
}

func (m Multi) RefreshWaiters(n int) {
	for _, r := range m {
		r.RefreshWaiters(n)
	}
}

func (m Multi) SessionEnded(reason string) {
	for _, r := range m {
		r.SessionEnded(reason)
	}
}

func (m Multi) IdleExpired() {
	for _, r := range m {
		r.IdleExpired()
	}
}

var (
	_ outbound.MetricsRecorder = (*Recorder)(nil)
	_ outbound.MetricsRecorder = Multi(nil)
)
