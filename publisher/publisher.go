// Package publisher delivers envelopes to a broker: attribute-to-header
// mapping, key selection for partition ordering, payload compression, and
// a resilient variant that wraps publishing in retries behind a circuit
// breaker.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventflow/eventflow"
	"github.com/eventflow/eventflow/broker"
	"github.com/eventflow/eventflow/observability"
)

// ErrNotConnected is returned by publish operations before Connect or
// after Disconnect.
var ErrNotConnected = errors.New("publisher: not connected")

// Config configures a Publisher.
type Config struct {
	// Topic is the destination topic.
	Topic string

	// Sender delivers the records. The in-memory broker satisfies it; so
	// does any adapter over a real broker client.
	Sender broker.Sender

	// KeyFunc picks the partition key for an envelope. Default: the
	// envelope id, which spreads load evenly. Key by correlation id
	// instead when a whole chain must stay ordered.
	KeyFunc func(*eventflow.Envelope) string

	// CompressThreshold is the wire size in bytes above which payloads
	// are gzipped. Zero applies eventflow.CompressThreshold; negative
	// disables compression.
	CompressThreshold int

	// Logger for publish diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records publish counters and latency. Nil means no-op.
	Metrics observability.MetricsRecorder
}

// Publisher encodes envelopes to records and sends them to one topic.
// Safe for concurrent use.
type Publisher struct {
	cfg Config

	mu        sync.Mutex
	connected bool
}

// New creates a Publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publisher: topic is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("publisher: sender is required")
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(e *eventflow.Envelope) string { return e.ID() }
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = eventflow.CompressThreshold
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Publisher{cfg: cfg}, nil
}

// Connect marks the publisher ready. Idempotent: connecting an already
// connected publisher is a no-op.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Disconnect marks the publisher stopped. Idempotent.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// Connected reports whether the publisher accepts publishes.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends one envelope.
func (p *Publisher) Publish(ctx context.Context, env *eventflow.Envelope) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	rec, err := p.encode(env)
	if err != nil {
		return err
	}
	return p.send(ctx, env, rec, p.cfg.Sender.Send)
}

// PublishBatch sends envelopes in order with one broker call. Encoding
// failures abort the batch before anything is sent.
func (p *Publisher) PublishBatch(ctx context.Context, envs []*eventflow.Envelope) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	records := make([]broker.Record, len(envs))
	for i, env := range envs {
		rec, err := p.encode(env)
		if err != nil {
			return fmt.Errorf("publisher: encoding %s: %w", env, err)
		}
		records[i] = rec
	}
	start := time.Now()
	err := p.cfg.Sender.Send(ctx, records...)
	elapsed := time.Since(start)
	for i, env := range envs {
		p.cfg.Metrics.RecordPublish(ctx, env.Type(), len(records[i].Value), elapsed, err)
	}
	p.cfg.Metrics.RecordBatch(ctx, "publisher", len(envs))
	if err != nil {
		return fmt.Errorf("publisher: batch send: %w", &eventflow.TransportError{Op: "send", Err: err})
	}
	return nil
}

// PublishTransactional sends envelopes atomically: consumers observe all
// of them or none. Requires the sender to implement broker.Transactor.
func (p *Publisher) PublishTransactional(ctx context.Context, envs []*eventflow.Envelope) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	txn, ok := p.cfg.Sender.(broker.Transactor)
	if !ok {
		return fmt.Errorf("publisher: sender does not support transactions")
	}
	records := make([]broker.Record, len(envs))
	for i, env := range envs {
		rec, err := p.encode(env)
		if err != nil {
			return fmt.Errorf("publisher: encoding %s: %w", env, err)
		}
		records[i] = rec
	}
	if err := txn.SendTransactional(ctx, records...); err != nil {
		return fmt.Errorf("publisher: transactional send: %w", &eventflow.TransportError{Op: "send", Err: err})
	}
	p.cfg.Metrics.RecordBatch(ctx, "publisher", len(envs))
	return nil
}

func (p *Publisher) send(ctx context.Context, env *eventflow.Envelope, rec broker.Record, sendFn func(context.Context, ...broker.Record) error) error {
	ctx, span := observability.StartPublishSpan(ctx, p.cfg.Topic, env.Type(), env.ID())
	start := time.Now()
	err := sendFn(ctx, rec)
	elapsed := time.Since(start)
	observability.EndSpanWithError(span, err)
	p.cfg.Metrics.RecordPublish(ctx, env.Type(), len(rec.Value), elapsed, err)
	if err != nil {
		observability.LogPublishError(p.cfg.Logger, p.cfg.Topic, env.ID(), err)
		return fmt.Errorf("publisher: send %s: %w", env, &eventflow.TransportError{Op: "send", Err: err})
	}
	if env.Telemetry != nil {
		env.Telemetry.MarkProcessed()
	}
	observability.LogPublish(p.cfg.Logger, p.cfg.Topic, env.ID(), env.Type(), len(rec.Value))
	return nil
}

// encode maps an envelope to a transport record. Attributes become ce-*
// headers; payloads larger than the threshold are gzipped and flagged
// with a content-encoding header.
func (p *Publisher) encode(env *eventflow.Envelope) (broker.Record, error) {
	raw, err := env.ToWire()
	if err != nil {
		return broker.Record{}, err
	}

	headers := map[string]string{
		broker.HeaderSpecVersion: eventflow.SpecVersion,
		broker.HeaderID:          env.ID(),
		broker.HeaderSource:      env.Source(),
		broker.HeaderType:        env.Type(),
	}
	if ct, ok := env.Attributes.DataContentType(); ok {
		headers[broker.HeaderContentType] = ct
	}
	if subject := env.Subject(); subject != "" {
		headers[broker.HeaderSubject] = subject
	}
	if !env.Time().IsZero() {
		headers[broker.HeaderTime] = env.Time().UTC().Format(time.RFC3339Nano)
	}
	if correlation := env.CorrelationID(); correlation != "" {
		headers[broker.HeaderCorrelationID] = correlation
	}
	if causation := env.CausationID(); causation != "" {
		headers[broker.HeaderCausationID] = causation
	}
	if tp, ok := env.Attributes.Traceparent(); ok {
		headers[broker.HeaderTraceparent] = tp
	}
	if ts, ok := env.Attributes.Tracestate(); ok {
		headers[broker.HeaderTracestate] = ts
	}

	value := raw
	if p.cfg.CompressThreshold > 0 && len(raw) > p.cfg.CompressThreshold {
		compressed, err := env.Compress()
		if err != nil {
			return broker.Record{}, err
		}
		value = compressed
		headers[broker.HeaderContentEncoding] = "gzip"
	}

	return broker.Record{
		Topic:   p.cfg.Topic,
		Key:     p.cfg.KeyFunc(env),
		Headers: headers,
		Value:   value,
	}, nil
}
