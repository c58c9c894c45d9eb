package token

import (
	"context"
	"sync"
	"time"
)

// ConsumptionStore records single-use token consumption. Consume must be an
// atomic check-and-set: it returns true exactly once per id. Records expire
// after ttl so the store never grows unbounded.
type ConsumptionStore interface {
	Consume(ctx context.Context, id string, ttl time.Duration) (first bool, err error)
	Close() error
}

// MemoryStore is a process-local ConsumptionStore. Correct for a single
// instance; multi-instance deployments need RedisStore for globally correct
// single-use semantics.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
	clock   Clock

	lastSweep time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		clock:   realClock{},
	}
}

// WithStoreClock overrides the store's time source (for tests).
func (s *MemoryStore) WithStoreClock(c Clock) *MemoryStore {
	s.clock = c
	return s
}

// Consume marks id as consumed. Returns true only for the first caller.
func (s *MemoryStore) Consume(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.maybeSweep(now)

	if expiry, ok := s.entries[id]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[id] = now.Add(ttl)
	return true, nil
}

// maybeSweep drops expired records. Caller must hold the lock.
func (s *MemoryStore) maybeSweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	for id, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, id)
		}
	}
	s.lastSweep = now
}

// Close implements ConsumptionStore.
func (s *MemoryStore) Close() error { return nil }
