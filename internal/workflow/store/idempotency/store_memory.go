package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore hands out single-use claims in memory. Used in tests and when
// Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// NewMemoryWithClock is a test constructor with an injectable clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	s := NewMemory()
	s.now = now
	return s
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiry, held := s.claims[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}
