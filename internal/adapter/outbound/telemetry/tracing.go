// Package telemetry exports traces and metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies spans and instruments produced by lms-session.
const InstrumentationName = "github.com/projectm/lms-session"

// ShutdownFunc flushes and stops an exporter.
type ShutdownFunc func(context.Context) error

// NewTracer returns a tracer that writes finished spans to w as JSON.
// A nil w yields a no-op tracer.
func NewTracer(w io.Writer) (trace.Tracer, ShutdownFunc, error) {
	if w == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName), func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return tp.Tracer(InstrumentationName), tp.Shutdown, nil
}
