// Package ingestion runs the live pipeline: it owns the two provider
// subscriptions, batches logs per block, and drives decode, sender
// resolution, pricing, and persistence for each closed batch.
package ingestion

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eth-swap-ingester/internal/decode"
	"eth-swap-ingester/internal/endpoints"
	"eth-swap-ingester/internal/ethereum"
	"eth-swap-ingester/internal/resolver"
)

// LogStream is a live log subscription. The channel closes when the
// underlying connection dies.
type LogStream interface {
	Logs() <-chan types.Log
	Close() error
}

// PendingTxStream is a live pending-transaction subscription.
type PendingTxStream interface {
	PendingTransactions() <-chan ethereum.PendingTransaction
	Close() error
}

// LogStreamFactory opens a log subscription bound to a provider key.
type LogStreamFactory func(ctx context.Context, key string) (LogStream, error)

// PendingTxStreamFactory opens a pending-transaction subscription bound to
// a provider key.
type PendingTxStreamFactory func(ctx context.Context, key string) (PendingTxStream, error)

// ChainClient answers the per-batch RPC lookups.
type ChainClient interface {
	resolver.SenderClient
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
}

// ChainClientFactory builds an RPC client for a query endpoint URL.
type ChainClientFactory func(url string) ChainClient

// SwapLogsFilter matches the three event signatures the decoder consumes,
// across all contract addresses.
func SwapLogsFilter() ethereum.LogsFilter {
	return ethereum.LogsFilter{
		Topics: [][]common.Hash{{
			decode.TransferTopic,
			decode.V2SwapTopic,
			decode.V3SwapTopic,
		}},
	}
}

// wsLogStream adapts a WSClient carrying one logs subscription.
type wsLogStream struct {
	client *ethereum.WSClient
	ch     <-chan types.Log
}

func (s *wsLogStream) Logs() <-chan types.Log { return s.ch }
func (s *wsLogStream) Close() error           { return s.client.Close() }

// wsPendingStream adapts a WSClient carrying one pending-tx subscription.
type wsPendingStream struct {
	client *ethereum.WSClient
	ch     <-chan ethereum.PendingTransaction
}

func (s *wsPendingStream) PendingTransactions() <-chan ethereum.PendingTransaction {
	return s.ch
}
func (s *wsPendingStream) Close() error { return s.client.Close() }

// NewWSLogStreamFactory returns a factory dialing the pool's websocket
// endpoint for a key and subscribing to the swap log filter.
func NewWSLogStreamFactory(pool *endpoints.Pool, cfg *ethereum.WSClientConfig) LogStreamFactory {
	filter := SwapLogsFilter()
	return func(ctx context.Context, key string) (LogStream, error) {
		client, err := ethereum.NewWSClient(ctx, pool.WSEndpoint(key), cfg)
		if err != nil {
			return nil, err
		}
		ch, err := client.SubscribeLogs(ctx, filter)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &wsLogStream{client: client, ch: ch}, nil
	}
}

// NewWSPendingStreamFactory returns a factory dialing the pool's websocket
// endpoint for a key and subscribing to the full pending-transaction feed.
func NewWSPendingStreamFactory(pool *endpoints.Pool, cfg *ethereum.WSClientConfig) PendingTxStreamFactory {
	return func(ctx context.Context, key string) (PendingTxStream, error) {
		client, err := ethereum.NewWSClient(ctx, pool.WSEndpoint(key), cfg)
		if err != nil {
			return nil, err
		}
		ch, err := client.SubscribePendingTransactions(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &wsPendingStream{client: client, ch: ch}, nil
	}
}

// NewHTTPChainClientFactory builds HTTP RPC clients for query endpoints.
func NewHTTPChainClientFactory(opts ...ethereum.ClientOption) ChainClientFactory {
	return func(url string) ChainClient {
		return ethereum.NewHTTPClient(url, opts...)
	}
}
