package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/projectm/lms-session/internal/port/outbound"
)

func TestNewTracer_WritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := NewTracer(&buf)
	if err != nil {
		t.Fatalf("NewTracer() error: %v", err)
	}

	_, span := tracer.Start(context.Background(), "gateway.refresh")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if !strings.Contains(buf.String(), "gateway.refresh") {
		t.Errorf("span not exported, output: %q", buf.String())
	}
}

func TestNewTracer_NilWriterIsNoop(t *testing.T) {
	tracer, shutdown, err := NewTracer(nil)
	if err != nil {
		t.Fatalf("NewTracer() error: %v", err)
	}
	_, span := tracer.Start(context.Background(), "x")
	if span.SpanContext().IsValid() {
		t.Error("noop tracer produced a valid span context")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumWhere(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation = %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecorder_Measurements(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	rec, err := NewRecorder(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewRecorder() error: %v", err)
	}

	rec.RequestDone("GET", "ok", 10*time.Millisecond)
	rec.RequestDone("GET", "server_error", 10*time.Millisecond)
	rec.RefreshDone("success")
	rec.RefreshWaiters(3)
	rec.SessionEnded("user_logout")
	rec.IdleExpired()
	rec.IdleExpired()

	got := collect(t, reader)

	if n := sumWhere(t, got["lms_session.requests"], "outcome", "ok"); n != 1 {
		t.Errorf("requests{outcome=ok} = %d, want 1", n)
	}
	if n := sumWhere(t, got["lms_session.refreshes"], "result", "success"); n != 1 {
		t.Errorf("refreshes{result=success} = %d, want 1", n)
	}
	if n := sumWhere(t, got["lms_session.sessions_ended"], "reason", "user_logout"); n != 1 {
		t.Errorf("sessions_ended{reason=user_logout} = %d, want 1", n)
	}
	if n := sumWhere(t, got["lms_session.idle_expirations"], "", ""); n != 2 {
		t.Errorf("idle_expirations = %d, want 2", n)
	}
	gauge, ok := got["lms_session.refresh.waiters"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 3 {
		t.Errorf("refresh.waiters = %+v, want 3", got["lms_session.refresh.waiters"])
	}
	hist, ok := got["lms_session.request.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("request.duration = %+v, want 2 samples for GET", got["lms_session.request.duration"])
	}
}

type countingRecorder struct {
	outbound.NopRecorder
	requests int
	expired  int
}

func (c *countingRecorder) RequestDone(string, string, time.Duration) { c.requests++ }
func (c *countingRecorder) IdleExpired()                              { c.expired++ }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	m := Multi{a, b}

	m.RequestDone("GET", "ok", time.Millisecond)
	m.IdleExpired()
	m.RefreshDone("success")
	m.RefreshWaiters(1)
	m.SessionEnded("inactivity")

	for i, r := range []*countingRecorder{a, b} {
		if r.requests != 1 || r.expired != 1 {
			t.Errorf("recorder %d = %+v, want one request and one expiry", i, r)
		}
	}
}

func TestNewStdoutRecorder_FlushesOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	rec, shutdown, err := NewStdoutRecorder(&buf, time.Hour)
	if err != nil {
		t.Fatalf("NewStdoutRecorder() error: %v", err)
	}
	rec.RefreshDone("failure")
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if !strings.Contains(buf.String(), "lms_session.refreshes") {
		t.Errorf("metrics not exported on shutdown, output: %q", buf.String())
	}
}
