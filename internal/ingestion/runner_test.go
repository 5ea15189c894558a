package ingestion

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/decode"
	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/endpoints"
	"eth-swap-ingester/internal/ethereum"
	"eth-swap-ingester/internal/persist"
	"eth-swap-ingester/internal/resolver"
	"eth-swap-ingester/internal/sendercache"
	"eth-swap-ingester/internal/storage/memory"
)

var (
	testWETH   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testToken  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSender = common.HexToAddress("0x9999999999999999999999999999999999999999")
	testTx     = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")
)

type stubLogStream struct{ ch chan types.Log }

func (s *stubLogStream) Logs() <-chan types.Log { return s.ch }
func (s *stubLogStream) Close() error           { return nil }

type stubPendingStream struct{ ch chan ethereum.PendingTransaction }

func (s *stubPendingStream) PendingTransactions() <-chan ethereum.PendingTransaction { return s.ch }
func (s *stubPendingStream) Close() error                                           { return nil }

type stubChainClient struct {
	mu          sync.Mutex
	senders     map[common.Hash]common.Address
	senderCalls int
	blockTime   time.Time
	blockErr    error
}

func (c *stubChainClient) TransactionSender(_ context.Context, hash common.Hash) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senderCalls++
	from, ok := c.senders[hash]
	if !ok {
		return common.Address{}, errors.New("unknown hash")
	}
	return from, nil
}

func (c *stubChainClient) BlockTimestamp(_ context.Context, _ uint64) (time.Time, error) {
	if c.blockErr != nil {
		return time.Time{}, c.blockErr
	}
	return c.blockTime, nil
}

// fixedPriceSource answers every lookup with one quote.
type fixedPriceSource struct {
	price decimal.Decimal
	err   error
}

func (s *fixedPriceSource) TokenPriceUSD(context.Context, string) (decimal.Decimal, error) {
	return s.price, s.err
}

func packV3Data(t *testing.T, amount0, amount1 *big.Int) []byte {
	t.Helper()
	newType := func(s string) abi.Type {
		ty, err := abi.NewType(s, "", nil)
		if err != nil {
			t.Fatalf("abi.NewType(%s): %v", s, err)
		}
		return ty
	}
	args := abi.Arguments{
		{Type: newType("int256")},
		{Type: newType("int256")},
		{Type: newType("uint160")},
		{Type: newType("uint128")},
		{Type: newType("int24")},
	}
	data, err := args.Pack(amount0, amount1, big.NewInt(0), big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("Pack v3 data: %v", err)
	}
	return data
}

type runnerFixture struct {
	runner    *Runner
	logs      chan types.Log
	pending   chan ethereum.PendingTransaction
	swapStore *memory.SwapStore
	client    *stubChainClient
}

func newRunnerFixture(t *testing.T, price *fixedPriceSource, priceStore *memory.PriceHistoryStore) *runnerFixture {
	t.Helper()

	pool, err := endpoints.NewPool([]string{"test-key"}, "wss://host/%s", "https://host/%s")
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	logs := make(chan types.Log, 100)
	pending := make(chan ethereum.PendingTransaction, 100)
	client := &stubChainClient{
		senders:   map[common.Hash]common.Address{testTx: testSender},
		blockTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := log.New(io.Discard, "", 0)
	swapStore := memory.NewSwapStore()

	runner, err := NewRunner(RunnerOptions{
		Pool:           pool,
		LogStreams:     func(context.Context, string) (LogStream, error) { return &stubLogStream{ch: logs}, nil },
		PendingStreams: func(context.Context, string) (PendingTxStream, error) { return &stubPendingStream{ch: pending}, nil },
		ChainClients:   func(string) ChainClient { return client },

		Decoder:  decode.NewDecoder(testWETH),
		Cache:    sendercache.New(10),
		Resolver: resolver.New(resolver.Options{Logger: logger}),
		Writer:   persist.NewWriter(persist.Options{Store: swapStore, Logger: logger}),

		ReferenceAsset: testWETH,
		PriceSource:    price,
		PriceStore:     priceStore,

		QuietPeriod:      10 * time.Millisecond,
		LogKeepalive:     time.Minute,
		PendingKeepalive: time.Minute,

		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	return &runnerFixture{
		runner:    runner,
		logs:      logs,
		pending:   pending,
		swapStore: swapStore,
		client:    client,
	}
}

func (f *runnerFixture) feedSwapBlock(t *testing.T, block uint64) {
	t.Helper()
	f.logs <- types.Log{
		Address:     testToken,
		Topics:      []common.Hash{decode.TransferTopic},
		BlockNumber: block,
	}
	f.logs <- types.Log{
		Address:     testWETH,
		Topics:      []common.Hash{decode.TransferTopic},
		BlockNumber: block,
	}
	f.logs <- types.Log{
		Address:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics:      []common.Hash{decode.V3SwapTopic},
		Data:        packV3Data(t, big.NewInt(100), big.NewInt(-2e18)),
		BlockNumber: block,
		TxHash:      testTx,
		Index:       2,
	}
}

func waitForRecords(t *testing.T, store *memory.SwapStore, want int) []*domain.SwapRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if all := store.All(); len(all) >= want {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d records, have %d", want, len(store.All()))
	return nil
}

func TestRunner_EndToEnd(t *testing.T) {
	price := &fixedPriceSource{price: decimal.RequireFromString("2500")}
	f := newRunnerFixture(t, price, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	// Pending feed announces the sender before its logs arrive.
	f.pending <- ethereum.PendingTransaction{Hash: testTx, From: testSender}
	time.Sleep(20 * time.Millisecond)

	f.feedSwapBlock(t, 100)

	records := waitForRecords(t, f.swapStore, 1)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	rec := records[0]
	if rec.BlockNumber != 100 {
		t.Errorf("Expected block 100, got %d", rec.BlockNumber)
	}
	if rec.Wallet == nil || *rec.Wallet != strings.ToLower(testSender.Hex()) {
		t.Errorf("Expected cached sender, got %v", rec.Wallet)
	}
	if !rec.EthPriceUSD.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("Expected price 2500, got %s", rec.EthPriceUSD)
	}
	// Reference left the pool (amount1 = -2): token1 slot holds 2 WETH.
	if rec.Token1ID == nil || *rec.Token1ID != strings.ToLower(testWETH.Hex()) {
		t.Errorf("Expected reference token in token1 slot, got %v", rec.Token1ID)
	}
	if !rec.Token1Qty.Valid || !rec.Token1Qty.Decimal.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected token1 qty 2, got %+v", rec.Token1Qty)
	}
	if !rec.CreatedAt.Equal(f.client.blockTime) {
		t.Errorf("Expected on-chain block time, got %s", rec.CreatedAt)
	}
	if f.client.senderCalls != 0 {
		t.Errorf("Expected zero sender RPC calls on cache hit, got %d", f.client.senderCalls)
	}
}

func TestRunner_SenderFallbackToRPC(t *testing.T) {
	price := &fixedPriceSource{price: decimal.RequireFromString("2500")}
	f := newRunnerFixture(t, price, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	// No pending-feed entry: the sender must come from the RPC fallback.
	f.feedSwapBlock(t, 100)

	records := waitForRecords(t, f.swapStore, 1)
	if records[0].Wallet == nil || *records[0].Wallet != strings.ToLower(testSender.Hex()) {
		t.Errorf("Expected RPC-resolved sender, got %v", records[0].Wallet)
	}
	f.client.mu.Lock()
	calls := f.client.senderCalls
	f.client.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 sender RPC call, got %d", calls)
	}
}

func TestRunner_SkipsBatchesWithoutPrice(t *testing.T) {
	price := &fixedPriceSource{err: errors.New("price api down")}
	f := newRunnerFixture(t, price, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	f.feedSwapBlock(t, 100)

	time.Sleep(150 * time.Millisecond)
	if got := len(f.swapStore.All()); got != 0 {
		t.Errorf("Expected no records while the price is unknown, got %d", got)
	}
}

func TestRunner_SeedsPriceFromHistory(t *testing.T) {
	priceStore := memory.NewPriceHistoryStore()
	seeded := &domain.PricePoint{
		Token:       strings.ToLower(testWETH.Hex()),
		PriceUSD:    decimal.RequireFromString("2100"),
		BlockNumber: 50,
		ObservedAt:  time.Now().UTC(),
	}
	if err := priceStore.Record(context.Background(), seeded); err != nil {
		t.Fatalf("Seed price store: %v", err)
	}

	// Live price source is down; the seeded price must carry the batch.
	price := &fixedPriceSource{err: errors.New("price api down")}
	f := newRunnerFixture(t, price, priceStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	f.feedSwapBlock(t, 100)

	records := waitForRecords(t, f.swapStore, 1)
	if !records[0].EthPriceUSD.Equal(decimal.RequireFromString("2100")) {
		t.Errorf("Expected seeded price 2100, got %s", records[0].EthPriceUSD)
	}
}

func TestRunner_RecordsFreshPrices(t *testing.T) {
	priceStore := memory.NewPriceHistoryStore()
	price := &fixedPriceSource{price: decimal.RequireFromString("2500")}
	f := newRunnerFixture(t, price, priceStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	f.feedSwapBlock(t, 100)
	waitForRecords(t, f.swapStore, 1)

	point, err := priceStore.Latest(context.Background(), strings.ToLower(testWETH.Hex()))
	if err != nil {
		t.Fatalf("Expected recorded price point: %v", err)
	}
	if point.BlockNumber != 100 || !point.PriceUSD.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("Unexpected price point: %+v", point)
	}
}

func TestRunner_BlockTimestampFallback(t *testing.T) {
	price := &fixedPriceSource{price: decimal.RequireFromString("2500")}
	f := newRunnerFixture(t, price, nil)
	f.client.blockErr = errors.New("header lookup failed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	before := time.Now().Add(-time.Second)
	f.feedSwapBlock(t, 100)

	records := waitForRecords(t, f.swapStore, 1)
	if records[0].CreatedAt.Before(before) {
		t.Errorf("Expected arrival-clock fallback timestamp, got %s", records[0].CreatedAt)
	}
}

func TestRunner_ProcessesBlocksInOrder(t *testing.T) {
	price := &fixedPriceSource{price: decimal.RequireFromString("2500")}
	f := newRunnerFixture(t, price, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Run(ctx)

	// Logs for two blocks land in one burst: the earlier block must be
	// written first, the later one on the re-armed timer.
	f.feedSwapBlock(t, 101)
	f.feedSwapBlock(t, 100)

	records := waitForRecords(t, f.swapStore, 2)
	if records[0].BlockNumber != 100 || records[1].BlockNumber != 101 {
		t.Errorf("Expected blocks [100, 101], got [%d, %d]", records[0].BlockNumber, records[1].BlockNumber)
	}
}
