// Package observability provides structured logging and OpenTelemetry
// metrics and tracing for the event substrate.
//
// All features are opt-in and have no-op implementations when disabled.
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

// MetricsRecorder records publish and consume metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records one published envelope with its wire size,
	// publish latency and error status.
	RecordPublish(ctx context.Context, eventType string, sizeBytes int, duration time.Duration, err error)

	// RecordConsume records one handled envelope with its handler latency
	// and error status.
	RecordConsume(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordDrop records an envelope discarded without a handler.
	RecordDrop(ctx context.Context, eventType, reason string)

	// RecordBatch records a flushed batch and its size.
	RecordBatch(ctx context.Context, component string, size int)
}

type otelMetrics struct {
	published      metric.Int64Counter
	publishLatency metric.Float64Histogram
	publishErrors  metric.Int64Counter
	publishBytes   metric.Int64Histogram
	consumed       metric.Int64Counter
	consumeLatency metric.Float64Histogram
	consumeErrors  metric.Int64Counter
	dropped        metric.Int64Counter
	batchSize      metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventflow")

	published, err := meter.Int64Counter("eventflow.publish.count",
		metric.WithDescription("Number of published envelopes"),
	)
	if err != nil {
		return nil, err
	}
	publishLatency, err := meter.Float64Histogram("eventflow.publish.latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	publishErrors, err := meter.Int64Counter("eventflow.publish.errors",
		metric.WithDescription("Number of failed publishes"),
	)
	if err != nil {
		return nil, err
	}
	publishBytes, err := meter.Int64Histogram("eventflow.publish.size_bytes",
		metric.WithDescription("Serialized envelope size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	consumed, err := meter.Int64Counter("eventflow.consume.count",
		metric.WithDescription("Number of handled envelopes"),
	)
	if err != nil {
		return nil, err
	}
	consumeLatency, err := meter.Float64Histogram("eventflow.consume.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	consumeErrors, err := meter.Int64Counter("eventflow.consume.errors",
		metric.WithDescription("Number of handler failures"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("eventflow.consume.dropped",
		metric.WithDescription("Number of envelopes dropped without a handler"),
	)
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("eventflow.batch.size",
		metric.WithDescription("Flushed batch size"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		published:      published,
		publishLatency: publishLatency,
		publishErrors:  publishErrors,
		publishBytes:   publishBytes,
		consumed:       consumed,
		consumeLatency: consumeLatency,
		consumeErrors:  consumeErrors,
		dropped:        dropped,
		batchSize:      batchSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
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

func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, sizeBytes int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.published.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	m.publishBytes.Record(ctx, int64(sizeBytes), metric.WithAttributes(attrs...))
	if err != nil {
		m.publishErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *otelMetrics) RecordConsume(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.consumeLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	if err != nil {
		m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *otelMetrics) RecordDrop(ctx context.Context, eventType, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("reason", reason),
	))
}

func (m *otelMetrics) RecordBatch(ctx context.Context, component string, size int) {
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(
		attribute.String("component", component),
	))
}
