// Package tracing provides OpenTelemetry span helpers for engine operations
// (cache loads, durable-store transactions, conditional fetches). It is
// entirely optional — spans are only created when a [Config] is wired in.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the OpenTelemetry configuration used by the engine.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

// tracer returns a configured [trace.Tracer].
func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("github.com/burrowkit/burrow/tracing")
}

// Start begins a span for the named operation. If cfg is nil no span is
// created and the returned end function is a no-op, so call sites never need
// a nil check. The end function records the operation's error, if any.
func Start(ctx context.Context, cfg *Config, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if cfg == nil {
		return ctx, func(error) {}
	}
	ctx, span := cfg.tracer().Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, func(err error) {
		recordStatus(span, err)
		span.End()
	}
}

// recordStatus maps an operation error onto the span status.
func recordStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
