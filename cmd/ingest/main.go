package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"eth-swap-ingester/internal/config"
	"eth-swap-ingester/internal/decode"
	"eth-swap-ingester/internal/endpoints"
	"eth-swap-ingester/internal/ingestion"
	"eth-swap-ingester/internal/observability"
	"eth-swap-ingester/internal/persist"
	"eth-swap-ingester/internal/pricing"
	"eth-swap-ingester/internal/resolver"
	"eth-swap-ingester/internal/sendercache"
	"eth-swap-ingester/internal/storage"
	chstore "eth-swap-ingester/internal/storage/clickhouse"
	"eth-swap-ingester/internal/storage/memory"
	pgstore "eth-swap-ingester/internal/storage/postgres"
	"eth-swap-ingester/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "Override metrics HTTP address (empty keeps config value)")
	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	metrics := observability.NewMetrics("")

	// Metrics server
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Webhook server
	if cfg.Webhook.Addr != "" {
		srv := webhook.NewServer(webhook.Options{
			SigningKey: cfg.Webhook.SigningKey,
			Metrics:    metrics,
			Logger:     logger,
			Handler: func(env *webhook.Envelope) {
				logger.Printf("Webhook %s event %s (%s)", env.WebhookID, env.ID, env.Type)
			},
		})
		go func() {
			logger.Printf("Starting webhook server on %s", cfg.Webhook.Addr)
			if err := http.ListenAndServe(cfg.Webhook.Addr, srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Webhook server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, metrics, cfg, *useMemory)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run wires the pipeline and blocks until ctx is canceled.
func run(ctx context.Context, logger *log.Logger, metrics *observability.Metrics, cfg *config.Config, useMemory bool) error {
	pool, err := endpoints.NewPool(cfg.Provider.Keys, cfg.Provider.WSTemplate, cfg.Provider.RPCTemplate)
	if err != nil {
		return fmt.Errorf("create endpoint pool: %w", err)
	}
	logger.Printf("Endpoint pool with %d keys, active window key %s***",
		len(cfg.Provider.Keys), cfg.Provider.Keys[0][:min(4, len(cfg.Provider.Keys[0]))])

	// Stores (use interfaces)
	var swapStore storage.SwapStore = memory.NewSwapStore()
	var priceStore storage.PriceHistoryStore = memory.NewPriceHistoryStore()

	if !useMemory {
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required (use --use-memory for in-memory storage)")
		}
		pgPool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgPool.Close()
		swapStore = pgstore.NewSwapStore(pgPool)

		if cfg.Storage.ClickHouseDSN != "" {
			chConn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
			if err != nil {
				return fmt.Errorf("connect to clickhouse: %w", err)
			}
			defer chConn.Close()
			priceStore = chstore.NewPriceHistoryStore(chConn)
		}
	}

	var errlog persist.ErrorLog
	if cfg.Pipeline.ErrorLogPath != "" {
		errlog = persist.NewFileErrorLog(cfg.Pipeline.ErrorLogPath)
	}

	writer := persist.NewWriter(persist.Options{
		Store:     swapStore,
		ErrorLog:  errlog,
		ChunkSize: cfg.Pipeline.ChunkSize,
		Logger:    logger,
	})

	var priceSource pricing.Source
	if cfg.Pricing.Endpoint != "" {
		priceSource = pricing.NewGraphClient(cfg.Pricing.Endpoint, cfg.Pricing.AuthToken)
	}

	reference := common.HexToAddress(cfg.Pipeline.ReferenceAsset)

	cacheCapacity := cfg.Pipeline.CacheCapacity
	if cacheCapacity <= 0 {
		cacheCapacity = sendercache.DefaultCapacity
	}

	runner, err := ingestion.NewRunner(ingestion.RunnerOptions{
		Pool:           pool,
		LogStreams:     ingestion.NewWSLogStreamFactory(pool, nil),
		PendingStreams: ingestion.NewWSPendingStreamFactory(pool, nil),
		ChainClients:   ingestion.NewHTTPChainClientFactory(),

		Decoder:  decode.NewDecoder(reference),
		Cache:    sendercache.New(cacheCapacity),
		Resolver: resolver.New(resolver.Options{GroupSize: cfg.Pipeline.ResolveGroupSize, Logger: logger}),
		Writer:   writer,

		ReferenceAsset: reference,
		PriceSource:    priceSource,
		PriceStore:     priceStore,

		QuietPeriod:      cfg.Pipeline.QuietPeriod.Std(),
		LogKeepalive:     cfg.Pipeline.LogKeepalive.Std(),
		PendingKeepalive: cfg.Pipeline.PendingKeepalive.Std(),

		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	logger.Println("Starting live ingestion...")
	return runner.Run(ctx)
}
