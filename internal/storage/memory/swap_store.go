package memory

import (
	"context"
	"sync"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data []*domain.SwapRecord
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make([]*domain.SwapRecord, 0),
	}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBatch appends a chunk of records atomically.
func (s *SwapStore) InsertBatch(_ context.Context, records []*domain.SwapRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r == nil {
			return storage.ErrInvalidInput
		}
	}
	for _, r := range records {
		// Store a copy
		copy := *r
		s.data = append(s.data, &copy)
	}
	return nil
}

// All returns a snapshot of every stored record, in insertion order.
func (s *SwapStore) All() []*domain.SwapRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.SwapRecord, len(s.data))
	copy(out, s.data)
	return out
}
