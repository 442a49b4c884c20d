package ash

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ContextStore.Get and ContextStore.Consume when
// no context exists for the given id (including after it has expired and
// been reaped).
var ErrNotFound = errors.New("ash: context not found")

// ErrAlreadyUsed is returned by ContextStore.Consume when the context
// exists but its single use has already been spent — the replay case.
var ErrAlreadyUsed = errors.New("ash: context already used")

// ErrIDCollision is returned by ContextStore.Create when the given id is
// already in use by a live (non-expired) context.
var ErrIDCollision = errors.New("ash: context id already exists")

// ContextStore is the persistence contract the engine depends on for
// issuing and retiring contexts. Implementations (in-memory, Redis, ...)
// live in package ashstore; the engine never assumes a concrete backend.
//
// Consume must be an atomic compare-and-swap: concurrent callers racing to
// consume the same context id must see exactly one success and the rest
// ErrAlreadyUsed. This is the invariant that makes single-use enforceable
// under concurrency (§4.4, §5).
type ContextStore interface {
	// Create stores a new context. Implementations reject a duplicate id
	// rather than overwrite — the engine generates ids expected to be
	// globally unique, so a collision indicates a caller or RNG bug.
	Create(ctx context.Context, sc StoredContext) error

	// Get returns the stored context unmodified (Used reflects current
	// state) or ErrNotFound if it does not exist or has expired.
	Get(ctx context.Context, id string) (StoredContext, error)

	// Consume atomically marks the context used and returns the context as
	// it was immediately before the transition. Returns ErrAlreadyUsed if
	// it was already marked used, or ErrNotFound if it does not exist or
	// has expired.
	Consume(ctx context.Context, id string) (StoredContext, error)

	// Size reports the number of live (non-expired) contexts. Intended for
	// metrics and tests, not the verify hot path.
	Size(ctx context.Context) (int, error)

	// Clear removes all stored contexts. Intended for tests.
	Clear(ctx context.Context) error
}
