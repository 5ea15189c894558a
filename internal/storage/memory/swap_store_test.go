package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/storage"
)

func TestSwapStore_InsertBatchAndAll(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	wallet := "0xaaaa"
	records := []*domain.SwapRecord{
		{BlockNumber: 100, TxHash: "0x01", Wallet: &wallet, EthPriceUSD: decimal.NewFromInt(2000)},
		{BlockNumber: 100, TxHash: "0x02", EthPriceUSD: decimal.NewFromInt(2000)},
	}

	if err := store.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	all := store.All()
	if len(all) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(all))
	}
	if all[0].TxHash != "0x01" || all[1].TxHash != "0x02" {
		t.Error("Expected insertion order to be preserved")
	}
}

func TestSwapStore_EmptyBatch(t *testing.T) {
	store := NewSwapStore()

	if err := store.InsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("Expected empty batch to be a no-op, got %v", err)
	}
	if len(store.All()) != 0 {
		t.Error("Expected no records")
	}
}

func TestSwapStore_NilRecordRejected(t *testing.T) {
	store := NewSwapStore()

	records := []*domain.SwapRecord{
		{BlockNumber: 1, TxHash: "0x01"},
		nil,
	}
	err := store.InsertBatch(context.Background(), records)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}
	if len(store.All()) != 0 {
		t.Error("Expected rejection to leave the store untouched")
	}
}

func TestSwapStore_StoresCopies(t *testing.T) {
	store := NewSwapStore()

	rec := &domain.SwapRecord{BlockNumber: 1, TxHash: "0x01"}
	if err := store.InsertBatch(context.Background(), []*domain.SwapRecord{rec}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	rec.TxHash = "0xmutated"
	if store.All()[0].TxHash != "0x01" {
		t.Error("Expected stored record to be unaffected by caller mutation")
	}
}

func TestPriceHistoryStore_RecordAndLatest(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	points := []*domain.PricePoint{
		{Token: "weth", PriceUSD: decimal.NewFromInt(2000), BlockNumber: 100, ObservedAt: base},
		{Token: "weth", PriceUSD: decimal.NewFromInt(2100), BlockNumber: 101, ObservedAt: base.Add(time.Minute)},
		{Token: "weth", PriceUSD: decimal.NewFromInt(1900), BlockNumber: 99, ObservedAt: base.Add(-time.Minute)},
	}
	for _, p := range points {
		if err := store.Record(ctx, p); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	latest, err := store.Latest(ctx, "weth")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !latest.PriceUSD.Equal(decimal.NewFromInt(2100)) {
		t.Errorf("Expected latest price 2100, got %s", latest.PriceUSD)
	}
	if latest.BlockNumber != 101 {
		t.Errorf("Expected latest block 101, got %d", latest.BlockNumber)
	}
}

func TestPriceHistoryStore_LatestUnknownToken(t *testing.T) {
	store := NewPriceHistoryStore()

	_, err := store.Latest(context.Background(), "unknown")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPriceHistoryStore_InvalidPoint(t *testing.T) {
	store := NewPriceHistoryStore()

	if err := store.Record(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil point, got %v", err)
	}
	if err := store.Record(context.Background(), &domain.PricePoint{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty token, got %v", err)
	}
}
