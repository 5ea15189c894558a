package storage

import (
	"context"

	"eth-swap-ingester/internal/domain"
)

// SwapStore provides access to swap_events storage.
type SwapStore interface {
	// InsertBatch writes one chunk of records as a single multi-row
	// insert inside a transaction. All rows land or none do.
	InsertBatch(ctx context.Context, records []*domain.SwapRecord) error
}

// PriceHistoryStore provides access to reference price history storage.
type PriceHistoryStore interface {
	// Record appends one price observation.
	Record(ctx context.Context, p *domain.PricePoint) error

	// Latest returns the most recent observation for a token.
	// Returns ErrNotFound when no observation exists.
	Latest(ctx context.Context, token string) (*domain.PricePoint, error)
}
