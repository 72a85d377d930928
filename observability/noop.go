package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordPublish(context.Context, string, int, time.Duration, error) {}

func (NoopMetrics) RecordConsume(context.Context, string, time.Duration, error) {}

func (NoopMetrics) RecordDrop(context.Context, string, string) {}

func (NoopMetrics) RecordBatch(context.Context, string, int) {}
