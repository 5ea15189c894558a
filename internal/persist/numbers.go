package persist

import (
	"math"

	"github.com/shopspring/decimal"
)

// maxSafeValue is the largest magnitude the swap_events NUMERIC(50,18)
// columns can hold without overflow.
var maxSafeValue = decimal.RequireFromString("9.999999999999999999999999999999999999999999999999E+31")

// SafeNumber clamps a value into the storable range. The operation is
// idempotent: clamping a clamped value is a no-op.
func SafeNumber(v decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(maxSafeValue) {
		return maxSafeValue
	}
	if v.LessThan(maxSafeValue.Neg()) {
		return maxSafeValue.Neg()
	}
	return v
}

// SafeFloat converts a float into a storable decimal.
// NaN and infinities map to zero.
func SafeFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return SafeNumber(decimal.NewFromFloat(f))
}
