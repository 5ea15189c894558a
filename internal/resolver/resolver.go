// Package resolver fills in the originating wallet of each swap in a batch.
//
// The sender cache answers the common case; cache misses fan out as
// concurrent RPC lookups spread round-robin over the query endpoints.
package resolver

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"eth-swap-ingester/internal/domain"
	"eth-swap-ingester/internal/sendercache"
)

// DefaultGroupSize is how many unresolved hashes share one query endpoint
// before assignment moves to the next one.
const DefaultGroupSize = 5

// SenderClient looks up a transaction's originating address.
type SenderClient interface {
	TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error)
}

// Stats summarizes one resolution pass.
type Stats struct {
	Total       int // distinct transaction hashes seen
	CacheHits   int
	CacheMisses int
	Failed      int // lookups that returned no sender
}

// Resolver resolves swap senders against a cache with RPC fallback.
type Resolver struct {
	groupSize int
	logger    *log.Logger
}

// Options configures a Resolver.
type Options struct {
	// GroupSize overrides DefaultGroupSize when > 0.
	GroupSize int
	Logger    *log.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	groupSize := opts.GroupSize
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{groupSize: groupSize, logger: logger}
}

// Resolve walks the batch in order, consulting the cache once per distinct
// transaction hash and fanning out one concurrent lookup per remaining
// hash. A failed lookup leaves From nil on its swaps; sibling lookups and
// the rest of the batch are unaffected.
func (r *Resolver) Resolve(ctx context.Context, swaps []*domain.Swap, cache *sendercache.Cache, clients []SenderClient) Stats {
	var stats Stats

	resolved := make(map[string]string) // tx hash -> sender (lowercase hex)
	var unresolved []common.Hash

	currentHash := ""
	for _, s := range swaps {
		if s.TxHash == currentHash {
			continue
		}
		currentHash = s.TxHash
		stats.Total++

		hash := common.HexToHash(s.TxHash)
		if from, ok := cache.Lookup(hash); ok {
			resolved[s.TxHash] = strings.ToLower(from.Hex())
			stats.CacheHits++
			continue
		}
		stats.CacheMisses++
		unresolved = append(unresolved, hash)
	}

	if len(unresolved) > 0 && len(clients) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup

		for i, hash := range unresolved {
			client := clients[(i/r.groupSize)%len(clients)]

			wg.Add(1)
			go func(hash common.Hash, client SenderClient) {
				defer wg.Done()

				from, err := client.TransactionSender(ctx, hash)
				if err != nil {
					r.logger.Printf("[resolver] sender lookup failed for %s: %v", hash.Hex(), err)
					return
				}

				mu.Lock()
				resolved[hash.Hex()] = strings.ToLower(from.Hex())
				mu.Unlock()
			}(hash, client)
		}

		wg.Wait()
	}

	for _, hash := range unresolved {
		if _, ok := resolved[hash.Hex()]; !ok {
			stats.Failed++
		}
	}

	for _, s := range swaps {
		if from, ok := resolved[s.TxHash]; ok {
			f := from
			s.From = &f
		}
	}

	return stats
}
