package observability

import (
	"log/slog"
)

// EnrichLogger adds envelope context to a logger: event id, type, and the
// chain's correlation id. Handlers get this so every line they log can be
// joined back to the chain.
func EnrichLogger(logger *slog.Logger, eventID, eventType, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("correlation_id", correlationID),
	)
}

// LogPublish logs one published envelope.
func LogPublish(logger *slog.Logger, topic, eventID, eventType string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("envelope published",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogPublishError logs a failed publish.
func LogPublishError(logger *slog.Logger, topic, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("publish failed",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a handler failure before the delivery is nacked.
func LogHandlerError(logger *slog.Logger, eventID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogDrop logs an envelope discarded without a handler.
func LogDrop(logger *slog.Logger, eventID, eventType, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("envelope dropped",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("reason", reason),
	)
}
