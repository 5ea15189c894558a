// Package endpoints manages the rotating set of provider API keys.
//
// The day is partitioned into N equal windows (N = key count); the key for
// the current window is the active subscription key. All keys double as the
// query endpoint pool used to spread bulk RPC lookups.
package endpoints

import (
	"fmt"
	"sync"
	"time"
)

// Pool holds the provider key list and the active selection.
// Selection is pure wall-clock arithmetic over a static key list.
type Pool struct {
	keys        []string
	wsTemplate  string // e.g. "wss://eth-mainnet.g.alchemy.com/v2/%s"
	rpcTemplate string // e.g. "https://eth-mainnet.g.alchemy.com/v2/%s"

	mu        sync.RWMutex
	activeKey string
}

// NewPool creates a pool over the given keys and endpoint URL templates.
// The initial active key is the one owning the current time window.
func NewPool(keys []string, wsTemplate, rpcTemplate string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("endpoint pool requires at least one key")
	}

	p := &Pool{
		keys:        keys,
		wsTemplate:  wsTemplate,
		rpcTemplate: rpcTemplate,
	}
	p.activeKey = p.ActiveKey(time.Now())
	return p, nil
}

// ActiveKey returns the key owning the time window that contains now:
// keys[floor(hour / (24/N))].
func (p *Pool) ActiveKey(now time.Time) string {
	window := 24.0 / float64(len(p.keys))
	idx := int(float64(now.Hour()) / window)
	if idx >= len(p.keys) {
		idx = len(p.keys) - 1
	}
	return p.keys[idx]
}

// RotateIfChanged swaps the active key if the time window moved on.
// When changed is true, callers must re-establish any live subscription
// bound to the previous key.
func (p *Pool) RotateIfChanged(now time.Time) (changed bool, key string) {
	next := p.ActiveKey(now)

	p.mu.Lock()
	defer p.mu.Unlock()

	if next == p.activeKey {
		return false, p.activeKey
	}
	p.activeKey = next
	return true, next
}

// CurrentKey returns the active key as of the last rotation check.
func (p *Pool) CurrentKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeKey
}

// WSEndpoint builds the websocket URL for a key.
func (p *Pool) WSEndpoint(key string) string {
	return fmt.Sprintf(p.wsTemplate, key)
}

// RPCEndpoint builds the HTTP RPC URL for a key.
func (p *Pool) RPCEndpoint(key string) string {
	return fmt.Sprintf(p.rpcTemplate, key)
}

// QueryEndpoints returns the ordered HTTP RPC URL list for bulk lookups.
func (p *Pool) QueryEndpoints() []string {
	urls := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		urls = append(urls, fmt.Sprintf(p.rpcTemplate, k))
	}
	return urls
}
