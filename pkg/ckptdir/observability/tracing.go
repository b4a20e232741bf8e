package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of all ckptdir spans.
const TracerName = "ckptdir"

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartCreateSpan starts a span around a barrier-synchronized creation
	// of one or more working locations.
	StartCreateSpan(ctx context.Context, key string, paths int) (context.Context, trace.Span)

	// StartFinalizeSpan starts a span around the commit of one checkpoint.
	StartFinalizeSpan(ctx context.Context, strategy, finalPath string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager using the global tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(TracerName)}
}

// NewSpanManagerFromProvider returns a SpanManager using tp.
func NewSpanManagerFromProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(TracerName)}
}

// StartCreateSpan starts a directory creation span.
func (m *otelSpanManager) StartCreateSpan(ctx context.Context, key string, paths int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "ckptdir.create",
		trace.WithAttributes(
			attribute.String("barrier.key", key),
			attribute.Int("paths", paths),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartFinalizeSpan starts a finalize span.
func (m *otelSpanManager) StartFinalizeSpan(ctx context.Context, strategy, finalPath string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "ckptdir.finalize",
		trace.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("final_path", finalPath),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
