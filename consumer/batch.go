package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventflow/eventflow"
	"github.com/eventflow/eventflow/broker"
	"github.com/eventflow/eventflow/observability"
)

// BatchHandler processes a flushed batch. A non-nil error nacks every
// delivery in the batch.
type BatchHandler func(ctx context.Context, envs []*eventflow.Envelope) error

// BatchConfig configures a BatchConsumer.
type BatchConfig struct {
	// Topic to subscribe to.
	Topic string

	// Group is the consumer group.
	Group string

	// Receiver provides the delivery stream.
	Receiver broker.Receiver

	// Resolver auto-detects payload schemas during decode. Optional.
	Resolver eventflow.SchemaResolver

	// BatchSize flushes as soon as this many envelopes are collected.
	// Default: 10.
	//
	// Brokers that cap in-flight deliveries bound how many envelopes can
	// accumulate between acks: the in-memory broker holds one unacked
	// delivery per partition, so a BatchSize above the partition count is
	// only ever reached by the timeout.
	BatchSize int

	// BatchTimeout flushes whatever has accumulated when the oldest
	// envelope in the batch reaches this age. Default: 1s.
	BatchTimeout time.Duration

	// Logger for dispatch diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records batch sizes and handler outcomes. Nil means no-op.
	Metrics observability.MetricsRecorder
}

// BatchConsumer accumulates decoded envelopes and hands them to one
// handler in batches, flushed by size or age, whichever comes first. All
// deliveries of a batch share its fate: one ack or nack decision per
// batch.
type BatchConsumer struct {
	cfg     BatchConfig
	handler BatchHandler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBatch creates a BatchConsumer.
func NewBatch(cfg BatchConfig, handler BatchHandler) (*BatchConsumer, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("consumer: topic is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("consumer: group is required")
	}
	if cfg.Receiver == nil {
		return nil, fmt.Errorf("consumer: receiver is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("consumer: handler is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &BatchConsumer{cfg: cfg, handler: handler}, nil
}

// Start subscribes and begins collecting. Returns once the subscription
// is established.
func (b *BatchConsumer) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	deliveries, err := b.cfg.Receiver.Receive(runCtx, b.cfg.Topic, b.cfg.Group)
	if err != nil {
		cancel()
		b.mu.Unlock()
		return fmt.Errorf("consumer: subscribe %s: %w", b.cfg.Topic, err)
	}
	b.started = true
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.collect(runCtx, deliveries)
	return nil
}

// Stop cancels the subscription. The partial batch in flight is flushed
// before Stop returns.
func (b *BatchConsumer) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.started = false
	b.mu.Unlock()
	cancel()
	<-done
}

// collect drains deliveries into batches. The timer starts with the
// first envelope of a batch, so an idle consumer never flushes empties.
func (b *BatchConsumer) collect(ctx context.Context, deliveries <-chan broker.Delivery) {
	defer close(b.done)

	var (
		envs    []*eventflow.Envelope
		pending []broker.Delivery
		timer   *time.Timer
		timeout <-chan time.Time
	)
	reset := func() {
		envs, pending = nil, nil
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
	}
	flush := func() {
		if len(envs) > 0 {
			b.flush(ctx, envs, pending)
		}
		reset()
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return
			}
			env, err := decode(d.Record, b.cfg.Resolver)
			if err != nil {
				observability.LogDrop(b.cfg.Logger, d.Record.Headers[broker.HeaderID], d.Record.Headers[broker.HeaderType], "decode: "+err.Error())
				b.cfg.Metrics.RecordDrop(ctx, d.Record.Headers[broker.HeaderType], "decode")
				d.Ack()
				continue
			}
			envs = append(envs, env)
			pending = append(pending, d)
			if len(envs) == 1 {
				timer = time.NewTimer(b.cfg.BatchTimeout)
				timeout = timer.C
			}
			if len(envs) >= b.cfg.BatchSize {
				flush()
			}
		case <-timeout:
			timer, timeout = nil, nil
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (b *BatchConsumer) flush(ctx context.Context, envs []*eventflow.Envelope, pending []broker.Delivery) {
	start := time.Now()
	err := b.handler(ctx, envs)
	elapsed := time.Since(start)
	b.cfg.Metrics.RecordBatch(ctx, "batch_consumer", len(envs))
	for _, env := range envs {
		b.cfg.Metrics.RecordConsume(ctx, env.Type(), elapsed, err)
	}
	if err != nil {
		for _, env := range envs {
			observability.LogHandlerError(b.cfg.Logger, env.ID(), env.Type(), err)
		}
		for _, d := range pending {
			d.Nack()
		}
		return
	}
	for _, d := range pending {
		d.Ack()
	}
}
