package eventflow

import "sync"

// Pool is an envelope free list that reduces allocation pressure in hot
// publish paths. Acquire and Release are the only mutation points; the
// pool is semantically transparent to callers.
type Pool struct {
	mu      sync.Mutex
	free    []*Envelope
	maxSize int

	acquired uint64
	reused   uint64
}

// NewPool creates a pool holding at most maxSize released envelopes.
func NewPool(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &Pool{maxSize: maxSize}
}

// Acquire returns a reused instance when one is available, fully rebuilt
// from the given attributes and payload, or constructs a new one. The
// returned envelope is indistinguishable from one produced by New.
func (p *Pool) Acquire(attrs Attributes, data any, opts ...Option) (*Envelope, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	var env *Envelope
	reused := false
	if n := len(p.free); n > 0 {
		env = p.free[n-1]
		p.free = p.free[:n-1]
		reused = true
	}
	p.acquired++
	if reused {
		p.reused++
	}
	p.mu.Unlock()

	if env == nil {
		env = &Envelope{}
	}
	if err := build(env, attrs, data, o); err != nil {
		// Construction failed; the blank instance goes back on the list.
		p.mu.Lock()
		if len(p.free) < p.maxSize {
			p.free = append(p.free, env)
		}
		p.mu.Unlock()
		return nil, err
	}
	return env, nil
}

// Release clears the envelope and returns it to the pool when under
// capacity. The caller must not use the envelope afterwards.
func (p *Pool) Release(env *Envelope) {
	if env == nil {
		return
	}
	env.Attributes = nil
	env.Data = nil
	env.signature = nil
	if env.Telemetry != nil {
		env.Telemetry.reset()
	}
	env.Telemetry = nil

	p.mu.Lock()
	if len(p.free) < p.maxSize {
		p.free = append(p.free, env)
	}
	p.mu.Unlock()
}

// ReuseRate reports the fraction of acquisitions served from the free
// list, for observability.
func (p *Pool) ReuseRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquired == 0 {
		return 0
	}
	return float64(p.reused) / float64(p.acquired)
}

// Size returns the number of envelopes currently on the free list.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
