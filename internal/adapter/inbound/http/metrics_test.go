package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.RefreshesTotal == nil {
		t.Error("RefreshesTotal not initialized")
	}
	if m.RefreshQueue == nil {
		t.Error("RefreshQueue not initialized")
	}
	if m.SessionsEnded == nil {
		t.Error("SessionsEnded not initialized")
	}
	if m.IdleExpirations == nil {
		t.Error("IdleExpirations not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestDone("GET", "ok", 100*time.Millisecond)
	m.RequestDone("GET", "ok", 200*time.Millisecond)
	m.RequestDone("POST", "client_error", time.Millisecond)
	m.RefreshDone("success")
	m.RefreshWaiters(4)
	m.SessionEnded("inactivity")
	m.IdleExpired()

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "ok")); got != 2 {
		t.Errorf("RequestsTotal{GET,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "client_error")); got != 1 {
		t.Errorf("RequestsTotal{POST,client_error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("RefreshesTotal{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RefreshQueue); got != 4 {
		t.Errorf("RefreshQueue = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.SessionsEnded.WithLabelValues("inactivity")); got != 1 {
		t.Errorf("SessionsEnded{inactivity} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.IdleExpirations); got != 1 {
		t.Errorf("IdleExpirations = %v, want 1", got)
	}

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	var hist *dto.Histogram
	for _, mf := range gathered {
		if strings.HasSuffix(mf.GetName(), "request_duration_seconds") {
			for _, metric := range mf.GetMetric() {
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "method" && lp.GetValue() == "GET" {
						hist = metric.GetHistogram()
					}
				}
			}
		}
	}
	if hist == nil {
		t.Fatal("request_duration histogram for GET not found in gathered metrics")
	}
	if hist.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", hist.GetSampleCount())
	}
	if sum := hist.GetSampleSum(); sum < 0.299 || sum > 0.301 {
		t.Errorf("sample sum = %v, want 0.3", sum)
	}
}
