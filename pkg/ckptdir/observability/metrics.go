package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all ckptdir metrics.
const MeterName = "ckptdir"

// MetricsRecorder records checkpoint save metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDirectoryCreation records one multi-path creation round.
	RecordDirectoryCreation(ctx context.Context, paths int, duration time.Duration, err error)

	// RecordStaleRecovered records removal of a leftover working location.
	RecordStaleRecovered(ctx context.Context, strategy string)

	// RecordCommit records a finalize attempt.
	RecordCommit(ctx context.Context, strategy string, duration time.Duration, err error)

	// RecordSaveDuration records the time from save start to commit.
	RecordSaveDuration(ctx context.Context, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	creations       metric.Int64Counter
	creationLatency metric.Float64Histogram
	staleRecovered  metric.Int64Counter
	commits         metric.Int64Counter
	commitLatency   metric.Float64Histogram
	saveDuration    metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider().Meter(MeterName))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	creations, err := meter.Int64Counter("ckptdir.directory_creation.count",
		metric.WithDescription("Number of temporary directory creation rounds"),
	)
	if err != nil {
		return nil, err
	}

	creationLatency, err := meter.Float64Histogram("ckptdir.directory_creation.latency_ms",
		metric.WithDescription("Temporary directory creation latency, barriers included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	staleRecovered, err := meter.Int64Counter("ckptdir.stale_recovered",
		metric.WithDescription("Number of leftover temporary directories removed"),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter("ckptdir.commits",
		metric.WithDescription("Number of checkpoint commits"),
	)
	if err != nil {
		return nil, err
	}

	commitLatency, err := meter.Float64Histogram("ckptdir.commit.latency_ms",
		metric.WithDescription("Checkpoint finalize latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	saveDuration, err := meter.Float64Histogram("ckptdir.save.duration_ms",
		metric.WithDescription("Time from save start until the checkpoint is committed"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		creations:       creations,
		creationLatency: creationLatency,
		staleRecovered:  staleRecovered,
		commits:         commits,
		commitLatency:   commitLatency,
		saveDuration:    saveDuration,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns a recorder bound to meter.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	m, err := newOtelMetrics(meter)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordDirectoryCreation records one creation round.
func (m *otelMetrics) RecordDirectoryCreation(ctx context.Context, paths int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.Int("paths", paths),
		attribute.Bool("success", err == nil),
	)
	m.creations.Add(ctx, 1, attrs)
	m.creationLatency.Record(ctx, ms(duration), attrs)
}

// RecordStaleRecovered records a stale artifact removal.
func (m *otelMetrics) RecordStaleRecovered(ctx context.Context, strategy string) {
	m.staleRecovered.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCommit records a finalize attempt.
func (m *otelMetrics) RecordCommit(ctx context.Context, strategy string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("success", err == nil),
	)
	m.commits.Add(ctx, 1, attrs)
	m.commitLatency.Record(ctx, ms(duration), attrs)
}

// RecordSaveDuration records end-to-end save time.
func (m *otelMetrics) RecordSaveDuration(ctx context.Context, duration time.Duration) {
	m.saveDuration.Record(ctx, ms(duration))
}
