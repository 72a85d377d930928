package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventflow/eventflow"
)

// ErrBatcherClosed is returned by Add after Close.
var ErrBatcherClosed = errors.New("process: batcher closed")

// BatchHandler receives a flushed batch. A failure fails the whole
// batch; there is no partial-batch retry.
type BatchHandler func(ctx context.Context, envs []*eventflow.Envelope) error

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	// MaxSize flushes immediately when the buffer reaches this size.
	// Default: 10.
	MaxSize int

	// MaxWait flushes whatever has accumulated this long after the first
	// buffered envelope. Default: 1s.
	MaxWait time.Duration

	// Handler receives every flushed batch.
	Handler BatchHandler

	// OnError receives the failed batch alongside the error. Nil means
	// failures are silently dropped with the batch.
	OnError func(err error, envs []*eventflow.Envelope)
}

// Batcher buffers envelopes and flushes them by size or age, whichever
// comes first. One timer is pending at most, armed by the first envelope
// of each batch. Safe for concurrent use; Flush may race with Add and
// with itself.
type Batcher struct {
	cfg BatcherConfig

	mu     sync.Mutex
	buf    []*eventflow.Envelope
	timer  *time.Timer
	closed bool
}

// NewBatcher creates a Batcher.
func NewBatcher(cfg BatcherConfig) (*Batcher, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("process: batch handler is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &Batcher{cfg: cfg}, nil
}

// Add buffers one envelope, flushing synchronously when the buffer
// reaches MaxSize.
func (b *Batcher) Add(ctx context.Context, env *eventflow.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}
	b.buf = append(b.buf, env)
	if len(b.buf) >= b.cfg.MaxSize {
		batch := b.take()
		b.mu.Unlock()
		b.deliver(ctx, batch)
		return nil
	}
	if len(b.buf) == 1 {
		b.timer = time.AfterFunc(b.cfg.MaxWait, func() { b.Flush(context.Background()) })
	}
	b.mu.Unlock()
	return nil
}

// Flush delivers the current buffer, if any. Idempotent: concurrent
// flushes see an empty buffer and return.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	b.deliver(ctx, batch)
}

// Size reports the number of buffered envelopes.
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close flushes the partial batch and rejects further adds.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.take()
	b.mu.Unlock()
	b.deliver(ctx, batch)
}

// take empties the buffer and disarms the timer. Caller holds b.mu.
func (b *Batcher) take() []*eventflow.Envelope {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.buf
	b.buf = nil
	return batch
}

func (b *Batcher) deliver(ctx context.Context, batch []*eventflow.Envelope) {
	if len(batch) == 0 {
		return
	}
	if err := b.cfg.Handler(ctx, batch); err != nil && b.cfg.OnError != nil {
		b.cfg.OnError(err, batch)
	}
}
