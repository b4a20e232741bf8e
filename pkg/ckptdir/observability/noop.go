package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordDirectoryCreation does nothing.
func (NoopMetrics) RecordDirectoryCreation(_ context.Context, _ int, _ time.Duration, _ error) {}

// RecordStaleRecovered does nothing.
func (NoopMetrics) RecordStaleRecovered(_ context.Context, _ string) {}

// RecordCommit does nothing.
func (NoopMetrics) RecordCommit(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordSaveDuration does nothing.
func (NoopMetrics) RecordSaveDuration(_ context.Context, _ time.Duration) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartCreateSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartCreateSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartFinalizeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartFinalizeSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
