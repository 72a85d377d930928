package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Suitable for tests and
// single-instance deployments; use RedisStore when multiple instances
// must share the dedup window.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
	closed  bool
	closeCh chan struct{}
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. A janitor goroutine sweeps expired
// entries every sweepInterval; zero disables sweeping (expired entries are
// still treated as absent, they just linger until overwritten).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		closeCh: make(chan struct{}),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	}
	return s
}

// MarkIfNew implements Store.
func (s *MemoryStore) MarkIfNew(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	now := s.now()
	if expiry, ok := s.entries[id]; ok && expiry.After(now) {
		return false, nil
	}
	s.entries[id] = now.Add(ttl)
	return true, nil
}

// Seen implements Store.
func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	expiry, ok := s.entries[id]
	return ok && expiry.After(s.now()), nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for id, expiry := range s.entries {
				if !expiry.After(now) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		case <-s.closeCh:
			return
		}
	}
}
