package postgres

import (
	"context"
	"fmt"
	"strings"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

// swapColumns is the column list of the swap_events table, in insert order.
const swapColumns = `
	block_number,
	transaction_hash,
	wallet_address,
	token0_id,
	token0_qty,
	token1_id,
	token1_qty,
	eth_price_usd,
	created_at,
	insert_timestamp
`

const swapColumnCount = 10

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBatch writes one chunk of records as a single multi-row insert
// inside a transaction.
func (s *SwapStore) InsertBatch(ctx context.Context, records []*domain.SwapRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*swapColumnCount)

	for i, r := range records {
		offset := i * swapColumnCount
		group := make([]string, swapColumnCount)
		for j := range group {
			group[j] = fmt.Sprintf("$%d", offset+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")

		args = append(args,
			r.BlockNumber,
			r.TxHash,
			r.Wallet,
			r.Token0ID,
			r.Token0Qty,
			r.Token1ID,
			r.Token1Qty,
			r.EthPriceUSD,
			r.CreatedAt,
			r.InsertedAt,
		)
	}

	query := fmt.Sprintf("INSERT INTO swap_events (%s) VALUES %s",
		swapColumns, strings.Join(placeholders, ","))

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
