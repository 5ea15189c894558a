package memory

import (
	"context"
	"sync"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PricePoint // keyed by token
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string][]*domain.PricePoint),
	}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Record appends one price observation.
func (s *PriceHistoryStore) Record(_ context.Context, p *domain.PricePoint) error {
	if p == nil || p.Token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	point := *p
	s.data[p.Token] = append(s.data[p.Token], &point)
	return nil
}

// Latest returns the most recent observation for a token.
func (s *PriceHistoryStore) Latest(_ context.Context, token string) (*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.data[token]
	if len(points) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.ObservedAt.After(latest.ObservedAt) {
			latest = p
		}
	}

	point := *latest
	return &point, nil
}
