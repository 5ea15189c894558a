// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingester.
type Metrics struct {
	// Subscription metrics
	LogsReceived      prometheus.Counter
	PendingTxReceived prometheus.Counter
	Reconnects        *prometheus.CounterVec
	KeyRotations      prometheus.Counter

	// Batch metrics
	BatchesProcessed prometheus.Counter
	BatchesSkipped   *prometheus.CounterVec
	PendingLogs      prometheus.Gauge
	LastBlock        prometheus.Gauge
	BatchDuration    prometheus.Histogram

	// Decode metrics
	SwapsDecoded prometheus.Counter
	DecodeErrors prometheus.Counter

	// Resolution metrics
	SenderCacheHits    prometheus.Counter
	SenderCacheMisses  prometheus.Counter
	SenderCacheSize    prometheus.Gauge
	ResolutionFailures prometheus.Counter
	ResolveDuration    prometheus.Histogram

	// Persistence metrics
	SwapsPersisted     prometheus.Counter
	ChunkWriteFailures prometheus.Counter

	// Webhook metrics
	WebhookRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with all metrics registered on a
// private registry, so independent pipeline instances never collide.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swap_ingester"
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Subscription metrics
		LogsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "logs_received_total",
			Help:      "Total number of logs delivered by the log subscription",
		}),
		PendingTxReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "pending_tx_received_total",
			Help:      "Total number of pending transactions delivered",
		}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconnects_total",
			Help:      "Total number of subscription re-establishments by stream and reason",
		}, []string{"stream", "reason"}),
		KeyRotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "key_rotations_total",
			Help:      "Total number of provider key rotations",
		}),

		// Batch metrics
		BatchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "processed_total",
			Help:      "Total number of per-block batches processed",
		}),
		BatchesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "skipped_total",
			Help:      "Total number of batches skipped by reason",
		}, []string{"reason"}),
		PendingLogs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "pending_logs",
			Help:      "Current number of buffered logs awaiting batch closure",
		}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "last_block",
			Help:      "Block number of the last processed batch",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Time spent processing one batch",
			Buckets:   prometheus.DefBuckets,
		}),

		// Decode metrics
		SwapsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "swaps_total",
			Help:      "Total number of reference-asset swaps decoded",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Total number of logs with undecodable swap data",
		}),

		// Resolution metrics
		SenderCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "cache_hits_total",
			Help:      "Total number of sender cache hits",
		}),
		SenderCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "cache_misses_total",
			Help:      "Total number of sender cache misses",
		}),
		SenderCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "cache_size",
			Help:      "Current number of entries in the sender cache",
		}),
		ResolutionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "failures_total",
			Help:      "Total number of sender lookups that returned no address",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "duration_seconds",
			Help:      "Time spent resolving senders for one batch",
			Buckets:   prometheus.DefBuckets,
		}),

		// Persistence metrics
		SwapsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "swaps_total",
			Help:      "Total number of swap records handed to the store",
		}),
		ChunkWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "chunk_failures_total",
			Help:      "Total number of chunk writes diverted to the error log",
		}),

		// Webhook metrics
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of webhook requests by outcome",
		}, []string{"outcome"}),
	}
}

// Handler returns an HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
