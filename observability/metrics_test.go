package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics binds fresh instruments to a manual-reader provider so
// recorded values can be collected and inspected.
func newTestMetrics(t *testing.T) (*otelMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := newOtelMetrics()
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			out[metric.Name] = metric
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordPublishInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPublish(ctx, "order.placed", 512, 3*time.Millisecond, nil)
	m.RecordPublish(ctx, "order.placed", 256, time.Millisecond, errors.New("broker down"))

	got := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, got["eventflow.publish.count"]))
	assert.Equal(t, int64(1), counterValue(t, got["eventflow.publish.errors"]))

	hist, ok := got["eventflow.publish.size_bytes"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	assert.Equal(t, uint64(2), n)
	_, ok = got["eventflow.publish.latency_ms"].Data.(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestRecordConsumeDropAndBatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConsume(ctx, "order.placed", time.Millisecond, nil)
	m.RecordConsume(ctx, "order.placed", time.Millisecond, errors.New("handler failed"))
	m.RecordDrop(ctx, "order.unknown", "no_handler")
	m.RecordBatch(ctx, "batch_consumer", 10)

	got := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, got["eventflow.consume.count"]))
	assert.Equal(t, int64(1), counterValue(t, got["eventflow.consume.errors"]))
	assert.Equal(t, int64(1), counterValue(t, got["eventflow.consume.dropped"]))

	hist, ok := got["eventflow.batch.size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(10), hist.DataPoints[0].Sum)
}

func TestNoopMetricsIsSafe(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	m.RecordPublish(ctx, "order.placed", 1, time.Millisecond, nil)
	m.RecordConsume(ctx, "order.placed", time.Millisecond, errors.New("x"))
	m.RecordDrop(ctx, "order.placed", "poison")
	m.RecordBatch(ctx, "batcher", 5)
}
