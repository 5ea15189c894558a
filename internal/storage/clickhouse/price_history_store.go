package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Record appends one price observation.
func (s *PriceHistoryStore) Record(ctx context.Context, p *domain.PricePoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_history (token, price_usd, block_number, observed_at)
		VALUES (?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		p.Token,
		p.PriceUSD.String(),
		p.BlockNumber,
		p.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}
	return nil
}

// Latest returns the most recent observation for a token.
func (s *PriceHistoryStore) Latest(ctx context.Context, token string) (*domain.PricePoint, error) {
	query := `
		SELECT token, price_usd, block_number, observed_at
		FROM price_history
		WHERE token = ?
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var (
		p        domain.PricePoint
		priceStr string
		observed time.Time
	)
	err := s.conn.QueryRow(ctx, query, token).Scan(&p.Token, &priceStr, &p.BlockNumber, &observed)
	if err != nil {
		if isNoRowsError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query latest price: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", priceStr, err)
	}
	p.PriceUSD = price
	p.ObservedAt = observed

	return &p, nil
}

// isNoRowsError checks if error indicates an empty result set.
// clickhouse-go surfaces QueryRow misses as database/sql's ErrNoRows.
func isNoRowsError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
