package cache

import (
	"context"
	"time"
)

// InMemoryIdempotencyStore de-duplicates webhook deliveries within a single
// process.
type InMemoryIdempotencyStore struct {
	m *expiringMap[struct{}]
}

// NewInMemoryIdempotencyStore creates an in-memory idempotency store
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{m: newExpiringMap[struct{}](5 * time.Minute)}
}

// MarkProcessed implements IdempotencyStore
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	return s.m.setIfAbsent(id, struct{}{}, s.m.now().Add(ttl)), nil
}

// IsProcessed implements IdempotencyStore
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, id string) (bool, error) {
	_, ok := s.m.get(id)
	return ok, nil
}

// Close stops the sweep loop. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.m.close()
	return nil
}

// Size returns the number of stored ids, expired ones included until swept
func (s *InMemoryIdempotencyStore) Size() int {
	return s.m.size()
}

var _ IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
