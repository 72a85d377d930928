package eventflow

import (
	"crypto/rand"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// FormatTraceparent renders a span context as a W3C traceparent header
// value (version 00).
func FormatTraceparent(sc trace.SpanContext) string {
	return fmt.Sprintf("00-%s-%s-%02x", sc.TraceID(), sc.SpanID(), byte(sc.TraceFlags()))
}

// ParseTraceparent parses a W3C traceparent header value into a remote
// span context.
func ParseTraceparent(header string) (trace.SpanContext, error) {
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, fmt.Errorf("eventflow: malformed traceparent %q", header)
	}
	if parts[0] != "00" {
		return trace.SpanContext{}, fmt.Errorf("eventflow: unsupported traceparent version %q", parts[0])
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("eventflow: invalid trace id: %w", err)
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("eventflow: invalid span id: %w", err)
	}
	var flags byte
	if _, err := fmt.Sscanf(parts[3], "%02x", &flags); err != nil {
		return trace.SpanContext{}, fmt.Errorf("eventflow: invalid trace flags: %w", err)
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(flags),
		Remote:     true,
	}), nil
}

// ChildTraceparent derives a traceparent for a child span: same trace id
// and flags, fresh random span id. Used when chaining envelopes so each
// derived event is a distinct span under the parent's trace.
func ChildTraceparent(parent string) (string, error) {
	sc, err := ParseTraceparent(parent)
	if err != nil {
		return "", err
	}
	var spanID trace.SpanID
	if _, err := rand.Read(spanID[:]); err != nil {
		return "", fmt.Errorf("eventflow: generating span id: %w", err)
	}
	child := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    sc.TraceID(),
		SpanID:     spanID,
		TraceFlags: sc.TraceFlags(),
		Remote:     true,
	})
	return FormatTraceparent(child), nil
}
