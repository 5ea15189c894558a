package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observation of the reference asset's USD price.
// Corresponds to the price_history table in ClickHouse.
type PricePoint struct {
	Token       string // lowercase hex address
	PriceUSD    decimal.Decimal
	BlockNumber uint64
	ObservedAt  time.Time
}
