package process

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/eventflow/eventflow"
)

// ErrStreamClosed is returned by Push and Next once a stream is closed
// and drained.
var ErrStreamClosed = errors.New("process: stream closed")

// BatchEventType is the type of the synthetic envelope Buffer emits.
const BatchEventType = "eventflow.stream.batch"

// Stream is a push-based envelope sequence with pull-based, blocking
// consumption. Transformations are lazy goroutine stages chained off the
// source; closing the source cascades down the chain in dependency
// order, and closing a stream unblocks its pending consumers.
type Stream struct {
	ch   chan *eventflow.Envelope
	done chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ch:   make(chan *eventflow.Envelope, buffer),
		done: make(chan struct{}),
	}
}

// Push appends one envelope, blocking while the buffer is full.
func (s *Stream) Push(ctx context.Context, env *eventflow.Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.ch <- env:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until an envelope is available. Returns ErrStreamClosed
// once the stream is closed and its buffer drained.
func (s *Stream) Next(ctx context.Context) (*eventflow.Envelope, error) {
	select {
	case env, ok := <-s.ch:
		if !ok {
			return nil, ErrStreamClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the stream. Pending pushes fail with ErrStreamClosed;
// buffered envelopes remain consumable until drained. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		// Unblock pushers first, then wait them out before closing the
		// channel under the write lock.
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Map derives a stream whose envelopes are fn applied to the source's.
// fn returning nil drops the envelope.
func (s *Stream) Map(fn func(*eventflow.Envelope) *eventflow.Envelope) *Stream {
	out := NewStream(cap(s.ch))
	go func() {
		defer out.Close()
		for {
			env, err := s.Next(context.Background())
			if err != nil {
				return
			}
			if mapped := fn(env); mapped != nil {
				if out.Push(context.Background(), mapped) != nil {
					return
				}
			}
		}
	}()
	return out
}

// Filter derives a stream keeping only matching envelopes.
func (s *Stream) Filter(pred Predicate) *Stream {
	return s.Map(func(env *eventflow.Envelope) *eventflow.Envelope {
		if pred(env) {
			return env
		}
		return nil
	})
}

// Take derives a stream that closes after n envelopes.
func (s *Stream) Take(n int) *Stream {
	out := NewStream(cap(s.ch))
	go func() {
		defer out.Close()
		for i := 0; i < n; i++ {
			env, err := s.Next(context.Background())
			if err != nil {
				return
			}
			if out.Push(context.Background(), env) != nil {
				return
			}
		}
	}()
	return out
}

// Buffer derives a stream of synthetic batch envelopes, each carrying n
// source envelopes in wire form as its data array. A partial batch is
// emitted when the source closes.
func (s *Stream) Buffer(n int) *Stream {
	if n <= 0 {
		n = 1
	}
	out := NewStream(cap(s.ch))
	go func() {
		defer out.Close()
		var pending []*eventflow.Envelope
		emit := func() bool {
			if len(pending) == 0 {
				return true
			}
			batch, err := batchEnvelope(pending)
			pending = nil
			if err != nil {
				return false
			}
			return out.Push(context.Background(), batch) == nil
		}
		for {
			env, err := s.Next(context.Background())
			if err != nil {
				emit()
				return
			}
			pending = append(pending, env)
			if len(pending) >= n {
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

// batchEnvelope wraps the envelopes' wire forms into one batch envelope.
func batchEnvelope(envs []*eventflow.Envelope) (*eventflow.Envelope, error) {
	items := make([]json.RawMessage, len(envs))
	for i, env := range envs {
		raw, err := env.ToWire()
		if err != nil {
			return nil, err
		}
		items[i] = raw
	}
	return eventflow.New(eventflow.Attributes{
		eventflow.AttrType:   BatchEventType,
		eventflow.AttrSource: "eventflow/stream",
	}, items)
}
