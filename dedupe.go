package eventflow

import (
	"context"
	"time"

	"github.com/eventflow/eventflow/dedup"
)

// NewWithDedup creates an envelope only if its id has not been seen within
// the store's TTL window. The check-and-mark is atomic at the store layer,
// so concurrent creators of the same id race safely: exactly one wins.
//
// A recognized duplicate is not an error: the function returns (nil, nil).
// This is an at-most-once creation guarantee scoped to the TTL, not a
// durable exactly-once guarantee.
//
// When attrs carries no id, one is generated first so the same id is both
// marked and stamped on the envelope.
func NewWithDedup(ctx context.Context, store dedup.Store, ttl time.Duration, attrs Attributes, data any, opts ...Option) (*Envelope, error) {
	a := attrs.Clone()
	id, ok := a.ID()
	if !ok {
		id = newEnvelopeID()
		a[AttrID] = id
	}
	fresh, err := store.MarkIfNew(ctx, id, ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, nil
	}
	env, err := New(a, data, opts...)
	if err != nil {
		// Creation failed after marking; release the id so a corrected
		// retry is not suppressed.
		_ = store.Forget(ctx, id)
		return nil, err
	}
	return env, nil
}
