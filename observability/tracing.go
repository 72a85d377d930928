package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventflow")

// StartPublishSpan starts a producer span for one envelope publish.
func StartPublishSpan(ctx context.Context, topic, eventType, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.publish",
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartConsumeSpan starts a consumer span for one envelope dispatch. When
// the envelope carries a traceparent, pass its parsed SpanContext as
// remote so the consumer span joins the producer's trace.
func StartConsumeSpan(ctx context.Context, remote trace.SpanContext, eventType, eventID string) (context.Context, trace.Span) {
	if remote.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	return tracer.Start(ctx, "eventflow.consume",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
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
