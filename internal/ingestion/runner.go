package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/batch"
	"eth-swap-ingester/internal/decode"
	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/endpoints"
	"eth-swap-ingester/internal/ethereum"
	"eth-swap-ingester/internal/observability"
	"eth-swap-ingester/internal/persist"
	"eth-swap-ingester/internal/pricing"
	"eth-swap-ingester/internal/resolver"
	"eth-swap-ingester/internal/sendercache"
	"eth-swap-ingester/internal/storage"
)

// Keepalive defaults. Each subscription has its own timer; a timer expiry
// means the stream went silent and the connection is replaced immediately,
// without backoff.
const (
	DefaultLogKeepalive     = 15 * time.Second
	DefaultPendingKeepalive = 30 * time.Second
)

// RunnerOptions configures a Runner. Pool, LogStreams, PendingStreams,
// ChainClients, Decoder, and Writer are required.
type RunnerOptions struct {
	Pool           *endpoints.Pool
	LogStreams     LogStreamFactory
	PendingStreams PendingTxStreamFactory
	ChainClients   ChainClientFactory

	Decoder  *decode.Decoder
	Cache    *sendercache.Cache
	Resolver *resolver.Resolver
	Writer   *persist.Writer

	// ReferenceAsset is the token whose USD price stamps every record.
	ReferenceAsset common.Address
	PriceSource    pricing.Source
	// PriceStore persists reference prices and seeds the last known price
	// across restarts. Optional.
	PriceStore storage.PriceHistoryStore

	QuietPeriod      time.Duration
	LogKeepalive     time.Duration
	PendingKeepalive time.Duration

	Metrics *observability.Metrics
	Logger  *log.Logger
	// Now overrides the wall clock. Defaults to time.Now.
	Now func() time.Time
}

// Runner is the ingestion supervisor. It owns both subscriptions and the
// batch accumulator, and serializes all pipeline state through one event
// loop.
type Runner struct {
	pool           *endpoints.Pool
	logStreams     LogStreamFactory
	pendingStreams PendingTxStreamFactory
	chainClientFn  ChainClientFactory

	decoder  *decode.Decoder
	cache    *sendercache.Cache
	resolver *resolver.Resolver
	writer   *persist.Writer

	referenceAsset common.Address
	priceSource    pricing.Source
	priceStore     storage.PriceHistoryStore

	logKeepalive     time.Duration
	pendingKeepalive time.Duration

	metrics *observability.Metrics
	logger  *log.Logger
	now     func() time.Time

	acc          *batch.Accumulator
	logStream    LogStream
	pendingTxs   PendingTxStream
	chainClients map[string]ChainClient

	// latestPrice is the last non-zero reference price; lastPriceBlock is
	// the highest block it was fetched for. One fetch per block at most.
	latestPrice    decimal.Decimal
	lastPriceBlock uint64

	// lastArrival is the wall clock of the most recent log, used as the
	// record timestamp when the block header lookup fails.
	lastArrival time.Time
	collecting  bool
}

// NewRunner creates a Runner. It does not connect; Run does.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("runner requires an endpoint pool")
	}
	if opts.LogStreams == nil || opts.PendingStreams == nil {
		return nil, fmt.Errorf("runner requires both stream factories")
	}
	if opts.ChainClients == nil {
		return nil, fmt.Errorf("runner requires a chain client factory")
	}
	if opts.Decoder == nil || opts.Writer == nil {
		return nil, fmt.Errorf("runner requires a decoder and a writer")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics("")
	}
	cache := opts.Cache
	if cache == nil {
		cache = sendercache.New(sendercache.DefaultCapacity)
	}
	res := opts.Resolver
	if res == nil {
		res = resolver.New(resolver.Options{Logger: logger})
	}
	logKeepalive := opts.LogKeepalive
	if logKeepalive == 0 {
		logKeepalive = DefaultLogKeepalive
	}
	pendingKeepalive := opts.PendingKeepalive
	if pendingKeepalive == 0 {
		pendingKeepalive = DefaultPendingKeepalive
	}

	return &Runner{
		pool:             opts.Pool,
		logStreams:       opts.LogStreams,
		pendingStreams:   opts.PendingStreams,
		chainClientFn:    opts.ChainClients,
		decoder:          opts.Decoder,
		cache:            cache,
		resolver:         res,
		writer:           opts.Writer,
		referenceAsset:   opts.ReferenceAsset,
		priceSource:      opts.PriceSource,
		priceStore:       opts.PriceStore,
		logKeepalive:     logKeepalive,
		pendingKeepalive: pendingKeepalive,
		metrics:          metrics,
		logger:           logger,
		now:              now,
		acc: batch.New(batch.Options{
			QuietPeriod: opts.QuietPeriod,
		}),
		chainClients: make(map[string]ChainClient),
	}, nil
}

// Run connects both subscriptions and processes events until ctx is
// canceled. It returns ctx.Err() on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.seedPrice(ctx)

	key := r.pool.CurrentKey()
	r.reconnectLogs(ctx, key, "start")
	r.reconnectPending(ctx, key, "start")

	logTimer := time.NewTimer(r.logKeepalive)
	pendingTimer := time.NewTimer(r.pendingKeepalive)
	defer logTimer.Stop()
	defer pendingTimer.Stop()

	defer func() {
		r.acc.Stop()
		if r.logStream != nil {
			r.logStream.Close()
		}
		if r.pendingTxs != nil {
			r.pendingTxs.Close()
		}
	}()

	for {
		// Re-read per iteration: reconnects swap the streams out. A nil
		// stream yields a nil channel, which blocks until its keepalive
		// timer forces a redial.
		logEvents := r.logEvents()
		pendingEvents := r.pendingEvents()

		select {
		case <-ctx.Done():
			return ctx.Err()

		case lg, ok := <-logEvents:
			if !ok {
				r.reconnectLogs(ctx, r.pool.CurrentKey(), "closed")
				continue
			}
			if !r.collecting {
				r.collecting = true
				r.logger.Printf("[ingest] logs arriving, starting at block %d", lg.BlockNumber)
			}
			r.lastArrival = r.now()
			r.acc.Append(lg)
			r.metrics.LogsReceived.Inc()
			r.metrics.PendingLogs.Set(float64(r.acc.PendingCount()))
			resetTimer(logTimer, r.logKeepalive)

		case tx, ok := <-pendingEvents:
			if !ok {
				r.reconnectPending(ctx, r.pool.CurrentKey(), "closed")
				continue
			}
			r.cache.Record(tx.Hash, tx.From)
			r.metrics.PendingTxReceived.Inc()
			r.metrics.SenderCacheSize.Set(float64(r.cache.Len()))
			resetTimer(pendingTimer, r.pendingKeepalive)

		case <-r.acc.Ready():
			r.processCycle(ctx)

		case <-logTimer.C:
			r.reconnectLogs(ctx, r.pool.CurrentKey(), "keepalive")
			logTimer.Reset(r.logKeepalive)

		case <-pendingTimer.C:
			r.reconnectPending(ctx, r.pool.CurrentKey(), "keepalive")
			pendingTimer.Reset(r.pendingKeepalive)
		}
	}
}

// processCycle drains the earliest complete block and runs it through the
// pipeline. Rotation is checked first so a stale key never serves another
// window.
func (r *Runner) processCycle(ctx context.Context) {
	if changed, key := r.pool.RotateIfChanged(r.now()); changed {
		r.logger.Printf("[ingest] rotating to provider key window %s***", keyPrefix(key))
		r.metrics.KeyRotations.Inc()
		r.reconnectLogs(ctx, key, "rotation")
		r.reconnectPending(ctx, key, "rotation")
	}

	if !r.acc.BeginProcessing() {
		return
	}
	defer r.acc.EndProcessing()
	defer r.acc.RearmIfPending()

	logs, block, ok := r.acc.TakeEarliest()
	r.metrics.PendingLogs.Set(float64(r.acc.PendingCount()))
	if !ok {
		return
	}
	r.collecting = false
	start := r.now()

	r.refreshPrice(ctx, block)
	if r.latestPrice.IsZero() {
		r.logger.Printf("[ingest] skipping block %d: reference price unknown", block)
		r.metrics.BatchesSkipped.WithLabelValues("no_price").Inc()
		return
	}

	swaps := r.decodeBatch(logs)
	if len(swaps) == 0 {
		r.metrics.BatchesProcessed.Inc()
		r.metrics.LastBlock.Set(float64(block))
		return
	}

	clients := r.queryClients()
	resolveStart := r.now()
	stats := r.resolver.Resolve(ctx, swaps, r.cache, clients)
	r.metrics.ResolveDuration.Observe(r.now().Sub(resolveStart).Seconds())
	r.metrics.SenderCacheHits.Add(float64(stats.CacheHits))
	r.metrics.SenderCacheMisses.Add(float64(stats.CacheMisses))
	r.metrics.ResolutionFailures.Add(float64(stats.Failed))

	blockTime := r.blockTimestamp(ctx, block, clients)

	saved := r.writer.Save(ctx, swaps, r.latestPrice, blockTime)
	r.metrics.SwapsPersisted.Add(float64(saved.Records))
	r.metrics.ChunkWriteFailures.Add(float64(saved.FailedChunks))

	r.metrics.BatchesProcessed.Inc()
	r.metrics.LastBlock.Set(float64(block))
	r.metrics.BatchDuration.Observe(r.now().Sub(start).Seconds())

	r.logger.Printf("[ingest] block %d: %d logs, %d swaps, %d/%d senders cached, %d chunks (%d failed) in %s",
		block, len(logs), len(swaps), stats.CacheHits, stats.Total,
		saved.Chunks, saved.FailedChunks, r.now().Sub(start))
}

// decodeBatch runs the batch through the decoder with a fresh token cursor.
func (r *Runner) decodeBatch(logs []types.Log) []*domain.Swap {
	var cursor decode.Cursor
	var swaps []*domain.Swap
	for _, lg := range logs {
		s, err := r.decoder.Decode(lg, &cursor)
		if err != nil {
			r.metrics.DecodeErrors.Inc()
			r.logger.Printf("[ingest] decode failed (tx=%s index=%d): %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		if s != nil {
			swaps = append(swaps, s)
		}
	}
	r.metrics.SwapsDecoded.Add(float64(len(swaps)))
	return swaps
}

// refreshPrice fetches the reference USD price once per block. A zero quote
// or a failed fetch keeps the previous price; a fresh non-zero quote is also
// recorded to the price history store.
func (r *Runner) refreshPrice(ctx context.Context, block uint64) {
	if r.priceSource == nil || block <= r.lastPriceBlock {
		return
	}

	price, err := r.priceSource.TokenPriceUSD(ctx, strings.ToLower(r.referenceAsset.Hex()))
	if err != nil {
		r.logger.Printf("[ingest] price fetch failed for block %d: %v", block, err)
		return
	}
	if price.IsZero() {
		return
	}

	r.latestPrice = price
	r.lastPriceBlock = block

	if r.priceStore != nil {
		point := &domain.PricePoint{
			Token:       strings.ToLower(r.referenceAsset.Hex()),
			PriceUSD:    price,
			BlockNumber: block,
			ObservedAt:  r.now().UTC(),
		}
		if err := r.priceStore.Record(ctx, point); err != nil {
			r.logger.Printf("[ingest] price history write failed: %v", err)
		}
	}
}

// seedPrice loads the last recorded reference price so a restart does not
// silently drop batches until the first live quote.
func (r *Runner) seedPrice(ctx context.Context) {
	if r.priceStore == nil {
		return
	}
	point, err := r.priceStore.Latest(ctx, strings.ToLower(r.referenceAsset.Hex()))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("[ingest] price history read failed: %v", err)
		}
		return
	}
	r.latestPrice = point.PriceUSD
	r.logger.Printf("[ingest] seeded reference price %s from block %d", point.PriceUSD, point.BlockNumber)
}

// blockTimestamp asks the first query endpoint for the block's on-chain
// timestamp, falling back to the batch's arrival wall clock.
func (r *Runner) blockTimestamp(ctx context.Context, block uint64, clients []resolver.SenderClient) time.Time {
	fallback := r.lastArrival
	if fallback.IsZero() {
		fallback = r.now()
	}

	if len(clients) == 0 {
		return fallback
	}
	client, ok := clients[0].(ChainClient)
	if !ok {
		return fallback
	}

	ts, err := client.BlockTimestamp(ctx, block)
	if err != nil {
		r.logger.Printf("[ingest] block timestamp lookup failed for %d: %v", block, err)
		return fallback
	}
	return ts
}

// queryClients returns one RPC client per query endpoint, creating and
// caching them on first use.
func (r *Runner) queryClients() []resolver.SenderClient {
	urls := r.pool.QueryEndpoints()
	clients := make([]resolver.SenderClient, 0, len(urls))
	for _, url := range urls {
		client, ok := r.chainClients[url]
		if !ok {
			client = r.chainClientFn(url)
			r.chainClients[url] = client
		}
		clients = append(clients, client)
	}
	return clients
}

// reconnectLogs replaces the log subscription. On failure the stream is left
// nil; the keepalive timer retries on its next expiry.
func (r *Runner) reconnectLogs(ctx context.Context, key, reason string) {
	if r.logStream != nil {
		r.logStream.Close()
		r.logStream = nil
	}
	r.metrics.Reconnects.WithLabelValues("logs", reason).Inc()

	stream, err := r.logStreams(ctx, key)
	if err != nil {
		r.logger.Printf("[ingest] log subscription failed (%s): %v", reason, err)
		return
	}
	r.logStream = stream
}

// reconnectPending replaces the pending-transaction subscription.
func (r *Runner) reconnectPending(ctx context.Context, key, reason string) {
	if r.pendingTxs != nil {
		r.pendingTxs.Close()
		r.pendingTxs = nil
	}
	r.metrics.Reconnects.WithLabelValues("pending", reason).Inc()

	stream, err := r.pendingStreams(ctx, key)
	if err != nil {
		r.logger.Printf("[ingest] pending subscription failed (%s): %v", reason, err)
		return
	}
	r.pendingTxs = stream
}

func (r *Runner) logEvents() <-chan types.Log {
	if r.logStream == nil {
		return nil
	}
	return r.logStream.Logs()
}

func (r *Runner) pendingEvents() <-chan ethereum.PendingTransaction {
	if r.pendingTxs == nil {
		return nil
	}
	return r.pendingTxs.PendingTransactions()
}

// resetTimer drains and re-arms a timer owned by the event loop.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// keyPrefix returns the first few characters of a key for log lines.
func keyPrefix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4]
}
