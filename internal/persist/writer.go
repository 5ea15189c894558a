// Package persist writes normalized swaps to storage in fault-tolerant
// chunks: a rejected chunk is diverted to a durable error log and the rest
// of the batch carries on.
package persist

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

// DefaultChunkSize is how many rows go into one multi-row insert.
const DefaultChunkSize = 100

// Writer persists swap batches.
type Writer struct {
	store     storage.SwapStore
	errlog    ErrorLog
	chunkSize int
	logger    *log.Logger
	now       func() time.Time
}

// Options configures a Writer.
type Options struct {
	Store    storage.SwapStore
	ErrorLog ErrorLog
	// ChunkSize overrides DefaultChunkSize when > 0.
	ChunkSize int
	Logger    *log.Logger
	// Now overrides the insert-timestamp clock. Defaults to time.Now.
	Now func() time.Time
}

// NewWriter creates a Writer.
func NewWriter(opts Options) *Writer {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		store:     opts.Store,
		errlog:    opts.ErrorLog,
		chunkSize: chunkSize,
		logger:    logger,
		now:       now,
	}
}

// SaveStats summarizes one Save call.
type SaveStats struct {
	Records      int
	Chunks       int
	FailedChunks int
}

// Save persists a batch of swaps stamped with the reference price and the
// block's on-chain timestamp. Store rejections never propagate: a failed
// chunk goes to the error log and the next chunk is still attempted.
// Empty input is a no-op.
func (w *Writer) Save(ctx context.Context, swaps []*domain.Swap, priceUSD decimal.Decimal, blockTime time.Time) SaveStats {
	var stats SaveStats
	if len(swaps) == 0 {
		return stats
	}

	insertedAt := w.now().UTC()
	records := make([]*domain.SwapRecord, 0, len(swaps))
	for _, s := range swaps {
		records = append(records, &domain.SwapRecord{
			BlockNumber: s.BlockNumber,
			TxHash:      s.TxHash,
			Wallet:      s.From,
			Token0ID:    s.Token0.Token,
			Token0Qty:   clampQty(s.Token0.Amount),
			Token1ID:    s.Token1.Token,
			Token1Qty:   clampQty(s.Token1.Amount),
			EthPriceUSD: SafeNumber(priceUSD),
			CreatedAt:   blockTime,
			InsertedAt:  insertedAt,
		})
	}
	stats.Records = len(records)

	for start := 0; start < len(records); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		stats.Chunks++

		if err := w.store.InsertBatch(ctx, chunk); err != nil {
			stats.FailedChunks++
			w.logger.Printf("[persist] chunk write failed (block=%d rows=%d): %v",
				chunk[0].BlockNumber, len(chunk), err)
			w.divert(chunk, err)
		}
	}

	return stats
}

// divert appends a failed chunk to the error log. A broken error log is
// itself only logged; nothing here may stop the pipeline.
func (w *Writer) divert(chunk []*domain.SwapRecord, cause error) {
	if w.errlog == nil {
		return
	}
	entry := ChunkError{
		Time:        w.now().UTC(),
		BlockNumber: chunk[0].BlockNumber,
		Rows:        len(chunk),
		Error:       cause.Error(),
	}
	if err := w.errlog.Append(entry); err != nil {
		w.logger.Printf("[persist] error log append failed: %v", err)
	}
}

// clampQty clamps a nullable quantity, leaving unset values unset.
func clampQty(q decimal.NullDecimal) decimal.NullDecimal {
	if !q.Valid {
		return q
	}
	return decimal.NullDecimal{Decimal: SafeNumber(q.Decimal), Valid: true}
}
