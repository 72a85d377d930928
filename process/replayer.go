package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventflow/eventflow"
)

// ErrReplayerRunning is returned by Start while a replay is in progress.
var ErrReplayerRunning = errors.New("process: replay already running")

// ReplayerConfig configures a Replayer.
type ReplayerConfig struct {
	// Speed is the playback multiplier when PreserveTiming is set: 2.0
	// halves the original gaps. Default: 1.0.
	Speed float64

	// PreserveTiming spaces envelopes by their original time deltas
	// scaled by 1/Speed. When false, envelopes replay back to back.
	PreserveTiming bool

	// Filter replays only matching envelopes. Nil replays everything.
	Filter Predicate

	// Handler receives each replayed envelope. Handler errors stop the
	// replay.
	Handler Handler
}

// Replayer plays a fixed, historical envelope sequence into a handler,
// optionally preserving the original inter-event spacing. One replay runs
// at a time; Pause, Resume and Stop are safe from any goroutine.
//
// Stop clears the pending gap timer immediately; an in-flight handler
// call is not awaited. That trade-off buys fast shutdown.
type Replayer struct {
	cfg  ReplayerConfig
	envs []*eventflow.Envelope

	mu      sync.Mutex
	running bool
	paused  bool
	resume  chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewReplayer creates a Replayer over a copy of the sequence.
func NewReplayer(cfg ReplayerConfig, envs []*eventflow.Envelope) (*Replayer, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("process: replay handler is required")
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	return &Replayer{
		cfg:  cfg,
		envs: append([]*eventflow.Envelope(nil), envs...),
	}, nil
}

// Start begins an asynchronous replay. Done reports completion.
func (r *Replayer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrReplayerRunning
	}
	r.running = true
	r.paused = false
	r.resume = make(chan struct{})
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.play(ctx)
	return nil
}

// Done returns a channel closed when the current replay finishes or is
// stopped. Nil before the first Start.
func (r *Replayer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Pause suspends delivery before the next envelope. In-flight handler
// calls complete.
func (r *Replayer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && !r.paused {
		r.paused = true
		r.resume = make(chan struct{})
	}
}

// Resume continues a paused replay.
func (r *Replayer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.paused {
		r.paused = false
		close(r.resume)
	}
}

// Stop aborts the replay, clearing any pending timer immediately.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *Replayer) play(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(r.done)
		r.mu.Unlock()
	}()

	var prev time.Time
	for _, env := range r.envs {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if r.cfg.Filter != nil && !r.cfg.Filter(env) {
			continue
		}
		if r.cfg.PreserveTiming && !prev.IsZero() {
			gap := env.Time().Sub(prev)
			if gap > 0 {
				if !r.wait(ctx, time.Duration(float64(gap)/r.cfg.Speed)) {
					return
				}
			}
		}
		if !r.waitResumed(ctx) {
			return
		}
		if err := r.cfg.Handler(ctx, env); err != nil {
			return
		}
		prev = env.Time()
	}
}

func (r *Replayer) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Replayer) waitResumed(ctx context.Context) bool {
	for {
		r.mu.Lock()
		paused, resume := r.paused, r.resume
		r.mu.Unlock()
		if !paused {
			return true
		}
		select {
		case <-resume:
		case <-r.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
