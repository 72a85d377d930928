// Package process provides broker-independent processing primitives over
// in-memory envelope sequences: priority routing with bounded
// concurrency, size/time batching, timed replay, staged pipelines and
// closeable streams. They compose with the publisher and consumer or
// stand alone in tests and tools.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eventflow/eventflow"
	"github.com/eventflow/eventflow/observability"
)

// ErrRouterClosed is returned by Route after Close.
var ErrRouterClosed = errors.New("process: router closed")

// Handler processes one envelope.
type Handler func(ctx context.Context, env *eventflow.Envelope) error

// Predicate decides whether a route matches an envelope.
type Predicate func(env *eventflow.Envelope) bool

// Route is one named routing rule. Higher priority wins; among equal
// priorities, registration order decides.
type Route struct {
	Name     string
	Priority int
	Match    Predicate
	Handle   Handler
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Concurrency is the hard ceiling on handlers running in parallel.
	// Default: 1.
	Concurrency int

	// QueueSize bounds the work queue. A full queue blocks Route until a
	// worker frees a slot. Default: 64.
	QueueSize int

	// Default handles envelopes no route matches. Nil logs and drops them.
	Default Handler

	// OnError receives handler failures without halting the queue.
	OnError func(err error, env *eventflow.Envelope)

	// Logger for routing diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Router matches envelopes to priority-ordered routes and runs their
// handlers on a bounded worker pool. Route selection is synchronous and
// first-match-wins, so one envelope never reaches two routes; only the
// handler execution is queued.
type Router struct {
	cfg    RouterConfig
	routes []Route

	work   chan routedWork
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type routedWork struct {
	handle Handler
	env    *eventflow.Envelope
}

// NewRouter creates a Router and starts its workers. Routes are fixed at
// construction.
func NewRouter(cfg RouterConfig, routes ...Route) (*Router, error) {
	for _, rt := range routes {
		if rt.Match == nil || rt.Handle == nil {
			return nil, fmt.Errorf("process: route %q needs a predicate and a handler", rt.Name)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	r := &Router{
		cfg:    cfg,
		routes: sorted,
		work:   make(chan routedWork, cfg.QueueSize),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r, nil
}

func (r *Router) worker() {
	defer r.wg.Done()
	for w := range r.work {
		if err := w.handle(context.Background(), w.env); err != nil {
			if r.cfg.OnError != nil {
				r.cfg.OnError(err, w.env)
			} else {
				observability.LogHandlerError(r.cfg.Logger, w.env.ID(), w.env.Type(), err)
			}
		}
	}
}

// Route matches the envelope and queues the winning handler. Blocks when
// the queue is full; that bounded queue is the router's backpressure.
func (r *Router) Route(ctx context.Context, env *eventflow.Envelope) error {
	// The read lock spans the send so Close cannot close the work channel
	// under a blocked sender; workers keep draining until Close finishes.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRouterClosed
	}

	handle := r.match(env)
	if handle == nil {
		observability.LogDrop(r.cfg.Logger, env.ID(), env.Type(), "no route")
		return nil
	}
	select {
	case r.work <- routedWork{handle: handle, env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) match(env *eventflow.Envelope) Handler {
	for _, rt := range r.routes {
		if rt.Match(env) {
			return rt.Handle
		}
	}
	return r.cfg.Default
}

// Close stops accepting work and waits for queued handlers to finish.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.work)
	r.mu.Unlock()
	r.wg.Wait()
}
