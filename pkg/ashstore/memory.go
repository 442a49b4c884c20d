package ashstore

import (
	"context"
	"sync"
	"time"

	"github.com/3meam/ash/pkg/ash"
)

// MemoryStore is an in-process ContextStore backed by a mutex-guarded map.
// Suitable for a single-replica deployment or for tests; a multi-replica
// deployment needs RedisStore so every replica observes the same consume
// state.
type MemoryStore struct {
	mu       sync.Mutex
	contexts map[string]ash.StoredContext
	clock    func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore using the system clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]ash.StoredContext),
		clock:    time.Now,
	}
}

// WithClock overrides the store's clock, for deterministic expiry tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

func (s *MemoryStore) Create(_ context.Context, sc ash.StoredContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.contexts[sc.ID]; ok && existing.ExpiresAt.After(s.clock()) {
		return ash.ErrIDCollision
	}
	s.contexts[sc.ID] = sc.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (ash.StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.contexts[id]
	if !ok || !sc.ExpiresAt.After(s.clock()) {
		return ash.StoredContext{}, ash.ErrNotFound
	}
	return sc.Clone(), nil
}

// Consume performs the compare-and-swap under the store's mutex: exactly
// one caller racing for the same id observes nil, every other caller
// observes ErrAlreadyUsed (§4.4, §5).
func (s *MemoryStore) Consume(_ context.Context, id string) (ash.StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.contexts[id]
	if !ok || !sc.ExpiresAt.After(s.clock()) {
		return ash.StoredContext{}, ash.ErrNotFound
	}
	if sc.Used {
		return ash.StoredContext{}, ash.ErrAlreadyUsed
	}

	before := sc.Clone()
	sc.Used = true
	s.contexts[id] = sc
	return before, nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	n := 0
	for _, sc := range s.contexts {
		if sc.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]ash.StoredContext)
	return nil
}

// Reap deletes expired entries so long-lived processes do not grow the map
// without bound. Callers typically run this on a ticker; it is not invoked
// implicitly by Get/Consume, which already treat expired entries as absent.
func (s *MemoryStore) Reap(_ context.Context) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for id, sc := range s.contexts {
		if !sc.ExpiresAt.After(now) {
			delete(s.contexts, id)
			removed++
		}
	}
	return removed
}
