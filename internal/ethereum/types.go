package ethereum

import (
	"github.com/ethereum/go-ethereum/common"
)

// LogsFilter selects logs delivered by a log subscription.
// An empty Addresses list leaves the filter unscoped by address.
type LogsFilter struct {
	Addresses []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// PendingTransaction is one entry from the pending-transaction feed.
type PendingTransaction struct {
	Hash common.Hash    `json:"hash"`
	From common.Address `json:"from"`
}
