// Package dedup provides TTL-expiring duplicate-suppression stores used
// for at-most-once processing guards. All stores expose atomic
// check-and-set semantics at the store layer; callers never do a
// client-side read-then-write.
package dedup

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("dedup: store closed")

// Store tracks processed envelope ids within a TTL window.
//
// The guarantee is at-most-once within the TTL, not durable exactly-once:
// an id expires after the window and will be reported as new again.
type Store interface {
	// MarkIfNew atomically records id unless it is already present.
	// Returns true when the id was newly recorded, false for a duplicate.
	MarkIfNew(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// Seen reports whether id is currently recorded.
	Seen(ctx context.Context, id string) (bool, error)

	// Forget removes an id before its TTL expires.
	Forget(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}
