package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventflow/eventflow"
)

// ErrCircuitOpen is returned when the breaker rejects a publish without
// attempting delivery.
var ErrCircuitOpen = errors.New("publisher: circuit open")

// breakerState is the circuit breaker state machine.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ResilientConfig configures a ResilientPublisher.
type ResilientConfig struct {
	// MaxRetries is the number of delivery attempts per publish.
	// Default: 3.
	MaxRetries int

	// RetryDelay is the backoff before the second attempt; it doubles for
	// every attempt after that. Default: 100ms.
	RetryDelay time.Duration

	// BreakerThreshold opens the circuit after this many consecutive
	// failed publishes. A failed publish means the whole retry loop was
	// exhausted. Default: 5.
	BreakerThreshold int

	// BreakerCooldown is how long the circuit stays open before a single
	// probe publish is allowed through. Default: 30s.
	BreakerCooldown time.Duration
}

func (c *ResilientConfig) defaults() ResilientConfig {
	cfg := *c
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	return cfg
}

// ResilientPublisher wraps a Publisher with an exponential-backoff retry
// loop behind a circuit breaker.
//
// The two mechanisms are independent state machines: the retry loop sees
// individual delivery attempts, the breaker sees whole publishes. One
// publish that exhausts its retries counts as exactly one breaker
// failure. While open, publishes fail fast with ErrCircuitOpen; after the
// cooldown a single probe is let through, and its outcome closes or
// reopens the circuit.
type ResilientPublisher struct {
	pub *Publisher
	cfg ResilientConfig

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResilient wraps an existing Publisher.
func NewResilient(pub *Publisher, cfg ResilientConfig) *ResilientPublisher {
	return &ResilientPublisher{
		pub:   pub,
		cfg:   cfg.defaults(),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State reports the breaker state, refreshed against the cooldown clock.
func (r *ResilientPublisher) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateOpen && time.Since(r.openedAt) >= r.cfg.BreakerCooldown {
		return stateHalfOpen.String()
	}
	return r.state.String()
}

// Publish delivers one envelope through the breaker and retry loop.
func (r *ResilientPublisher) Publish(ctx context.Context, env *eventflow.Envelope) error {
	probe, err := r.allow()
	if err != nil {
		return err
	}
	pubErr := r.withRetries(ctx, func() error { return r.pub.Publish(ctx, env) })
	r.record(probe, pubErr)
	return pubErr
}

// PublishBatch delivers a batch through the breaker and retry loop. The
// batch succeeds or fails as a unit.
func (r *ResilientPublisher) PublishBatch(ctx context.Context, envs []*eventflow.Envelope) error {
	probe, err := r.allow()
	if err != nil {
		return err
	}
	pubErr := r.withRetries(ctx, func() error { return r.pub.PublishBatch(ctx, envs) })
	r.record(probe, pubErr)
	return pubErr
}

// allow decides whether a publish may proceed. The bool reports whether
// this publish is the half-open probe.
func (r *ResilientPublisher) allow() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateClosed:
		return false, nil
	case stateOpen:
		if time.Since(r.openedAt) < r.cfg.BreakerCooldown {
			return false, ErrCircuitOpen
		}
		r.state = stateHalfOpen
		r.probing = true
		return true, nil
	default: // half-open
		if r.probing {
			// One probe at a time; everyone else keeps failing fast.
			return false, ErrCircuitOpen
		}
		r.probing = true
		return true, nil
	}
}

// isTransportFailure reports whether err originates from the broker call
// rather than from encoding or connection state on the caller's side.
func isTransportFailure(err error) bool {
	var te *eventflow.TransportError
	return errors.As(err, &te)
}

// record feeds one publish outcome to the breaker. Non-transport errors
// leave the breaker untouched: the broker was never at fault.
func (r *ResilientPublisher) record(probe bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if probe {
		r.probing = false
	}
	if err == nil {
		r.state = stateClosed
		r.failures = 0
		return
	}
	if !isTransportFailure(err) {
		return
	}
	if r.state == stateHalfOpen {
		// Probe failed: back to a full cooldown.
		r.state = stateOpen
		r.openedAt = time.Now()
		return
	}
	r.failures++
	if r.failures >= r.cfg.BreakerThreshold {
		r.state = stateOpen
		r.openedAt = time.Now()
	}
}

// withRetries runs fn up to MaxRetries times with doubling backoff. Only
// transport failures are retried; validation, serialization and
// connection-state errors surface unchanged after the first attempt.
func (r *ResilientPublisher) withRetries(ctx context.Context, fn func() error) error {
	delay := r.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !isTransportFailure(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.MaxRetries {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return fmt.Errorf("publisher: %d attempts exhausted: %w", r.cfg.MaxRetries, lastErr)
}
