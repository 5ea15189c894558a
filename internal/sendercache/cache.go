// Package sendercache maps transaction hashes to their originating wallet.
//
// It is fed by the pending-transaction feed, which usually announces a
// transaction before its logs are processed; a hit saves a network round
// trip during sender resolution.
package sendercache

import (
	"github.com/ethereum/go-ethereum/common"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 1000

// Cache is a capacity-bounded FIFO map from transaction hash to sender.
// Eviction is purely capacity-driven: the oldest insertion goes first,
// regardless of access recency. There is no TTL.
//
// The cache is owned by the ingestion runner's event loop and is not safe
// for concurrent use.
type Cache struct {
	capacity int
	order    []common.Hash
	entries  map[common.Hash]common.Address
}

// New creates a cache with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    make([]common.Hash, 0, capacity),
		entries:  make(map[common.Hash]common.Address, capacity),
	}
}

// Record inserts at the tail, evicting the head entry first when the cache
// is full. Re-recording a known hash only updates its sender.
func (c *Cache) Record(hash common.Hash, from common.Address) {
	if _, ok := c.entries[hash]; ok {
		c.entries[hash] = from
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.order = append(c.order, hash)
	c.entries[hash] = from
}

// Lookup returns the cached sender for a hash. Hits do not remove entries.
func (c *Cache) Lookup(hash common.Hash) (common.Address, bool) {
	from, ok := c.entries[hash]
	return from, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
