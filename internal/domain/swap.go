package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenLeg is one side of a two-sided swap. Amount is unset for the
// counter leg: only the reference-asset quantity is tracked.
type TokenLeg struct {
	Token  *string             // lowercase hex address, nil when unknown
	Amount decimal.NullDecimal // positive magnitude, unset for the counter leg
}

// Swap is a normalized swap event touching the reference asset.
// Exactly one leg carries the reference asset; the other leg carries the
// counter token with no amount. From stays nil until resolved.
type Swap struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint // preserves emission order within the block
	From        *string
	Token0      TokenLeg
	Token1      TokenLeg
}

// SwapRecord is a persisted swap row.
// Corresponds to the swap_events table in PostgreSQL.
type SwapRecord struct {
	BlockNumber uint64
	TxHash      string
	Wallet      *string
	Token0ID    *string
	Token0Qty   decimal.NullDecimal
	Token1ID    *string
	Token1Qty   decimal.NullDecimal
	EthPriceUSD decimal.Decimal
	CreatedAt   time.Time // block timestamp
	InsertedAt  time.Time // wall clock at insert
}
