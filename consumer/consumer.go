// Package consumer dispatches broker deliveries to typed envelope
// handlers: wire decoding, schema detection, ack/nack bookkeeping, and
// batch accumulation.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/eventflow/eventflow"
	"github.com/eventflow/eventflow/broker"
	"github.com/eventflow/eventflow/observability"
)

// ErrStarted is returned when a consumer is configured after Start.
var ErrStarted = errors.New("consumer: already started")

// Handler processes one envelope. A non-nil error nacks the delivery for
// redelivery on the same partition.
type Handler func(ctx context.Context, env *eventflow.Envelope) error

// ErrorHook observes a handler failure before the delivery is nacked.
type ErrorHook func(ctx context.Context, env *eventflow.Envelope, err error)

// HandlerOption configures one handler registration.
type HandlerOption func(*handlerEntry)

// WithHandlerSchema validates payloads against an inline JSON Schema
// before the handler runs, overriding resolver detection for these types.
func WithHandlerSchema(schemaJSON string) HandlerOption {
	return func(h *handlerEntry) {
		s, err := eventflow.CompileSchema(schemaJSON)
		if err != nil {
			h.schemaErr = err
			return
		}
		h.validator = s
	}
}

// WithHandlerErrorHook attaches an error observer to the handler.
func WithHandlerErrorHook(hook ErrorHook) HandlerOption {
	return func(h *handlerEntry) { h.onError = hook }
}

type handlerEntry struct {
	fn        Handler
	validator eventflow.DataValidator
	onError   ErrorHook
	schemaErr error
}

// Config configures a Consumer.
type Config struct {
	// Topic to subscribe to.
	Topic string

	// Group is the consumer group; members share the topic's partitions.
	Group string

	// Receiver provides the delivery stream.
	Receiver broker.Receiver

	// Resolver auto-detects payload schemas by event type during decode.
	// Optional; without it payloads are accepted unvalidated unless the
	// handler carries its own schema.
	Resolver eventflow.SchemaResolver

	// Logger for dispatch diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records consume counters and latency. Nil means no-op.
	Metrics observability.MetricsRecorder
}

// Consumer decodes deliveries and dispatches them to handlers by event
// type. Multiple handlers for the same type run sequentially in
// registration order; the delivery is acked only when all of them
// succeed.
type Consumer struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string][]*handlerEntry
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Consumer.
func New(cfg Config) (*Consumer, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("consumer: topic is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("consumer: group is required")
	}
	if cfg.Receiver == nil {
		return nil, fmt.Errorf("consumer: receiver is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Consumer{
		cfg:      cfg,
		handlers: make(map[string][]*handlerEntry),
	}, nil
}

// On registers a handler for the given event types. Must be called
// before Start.
func (c *Consumer) On(types []string, h Handler, opts ...HandlerOption) error {
	if h == nil {
		return fmt.Errorf("consumer: handler is required")
	}
	if len(types) == 0 {
		return fmt.Errorf("consumer: at least one event type is required")
	}
	entry := &handlerEntry{fn: h}
	for _, opt := range opts {
		opt(entry)
	}
	if entry.schemaErr != nil {
		return entry.schemaErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrStarted
	}
	for _, t := range types {
		c.handlers[t] = append(c.handlers[t], entry)
	}
	return nil
}

// Start subscribes and begins dispatching. Returns once the subscription
// is established; dispatch runs until Stop or ctx cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	deliveries, err := c.cfg.Receiver.Receive(runCtx, c.cfg.Topic, c.cfg.Group)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("consumer: subscribe %s: %w", c.cfg.Topic, err)
	}
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		for d := range deliveries {
			c.dispatch(runCtx, d)
		}
	}()
	return nil
}

// Stop cancels the subscription and waits for the in-flight delivery to
// drain.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()
	cancel()
	<-done
}

// dispatch decodes one delivery and runs its handlers.
func (c *Consumer) dispatch(ctx context.Context, d broker.Delivery) {
	env, err := decode(d.Record, c.cfg.Resolver)
	if err != nil {
		// Undecodable records are poison: redelivery cannot fix them, so
		// they are logged and acked away.
		observability.LogDrop(c.cfg.Logger, d.Record.Headers[broker.HeaderID], d.Record.Headers[broker.HeaderType], "decode: "+err.Error())
		c.cfg.Metrics.RecordDrop(ctx, d.Record.Headers[broker.HeaderType], "decode")
		d.Ack()
		return
	}

	c.mu.Lock()
	entries := c.handlers[env.Type()]
	c.mu.Unlock()
	if len(entries) == 0 {
		observability.LogDrop(c.cfg.Logger, env.ID(), env.Type(), "no handler")
		c.cfg.Metrics.RecordDrop(ctx, env.Type(), "no_handler")
		d.Ack()
		return
	}

	var remote trace.SpanContext
	if tp, ok := env.Attributes.Traceparent(); ok {
		remote, _ = eventflow.ParseTraceparent(tp)
	}
	spanCtx, span := observability.StartConsumeSpan(ctx, remote, env.Type(), env.ID())
	logger := observability.EnrichLogger(c.cfg.Logger, env.ID(), env.Type(), env.CorrelationID())

	start := time.Now()
	err = c.run(spanCtx, entries, env)
	elapsed := time.Since(start)
	observability.EndSpanWithError(span, err)
	c.cfg.Metrics.RecordConsume(spanCtx, env.Type(), elapsed, err)

	if err != nil {
		observability.LogHandlerError(logger, env.ID(), env.Type(), err)
		d.Nack()
		return
	}
	if env.Telemetry != nil {
		env.Telemetry.MarkProcessed()
	}
	d.Ack()
}

// run executes every handler for the type in order, stopping at the
// first failure.
func (c *Consumer) run(ctx context.Context, entries []*handlerEntry, env *eventflow.Envelope) error {
	for _, entry := range entries {
		if entry.validator != nil && env.Data != nil {
			if err := entry.validator.ValidateData(env.Data); err != nil {
				c.hookError(ctx, entry, env, err)
				return err
			}
		}
		if err := entry.fn(ctx, env); err != nil {
			c.hookError(ctx, entry, env, err)
			return err
		}
	}
	return nil
}

func (c *Consumer) hookError(ctx context.Context, entry *handlerEntry, env *eventflow.Envelope, err error) {
	if entry.onError != nil {
		entry.onError(ctx, env, err)
	}
}

// decode reverses the publisher's record encoding: gunzip when the
// content-encoding header says so, then wire decode with resolver
// validation.
func decode(rec broker.Record, resolver eventflow.SchemaResolver) (*eventflow.Envelope, error) {
	var opts []eventflow.Option
	if resolver != nil {
		opts = append(opts, eventflow.WithResolver(resolver))
	}
	if rec.Headers[broker.HeaderContentEncoding] == "gzip" {
		return eventflow.Decompress(rec.Value, opts...)
	}
	return eventflow.FromWire(rec.Value, opts...)
}
