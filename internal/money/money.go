// Package money holds the fixed-precision arithmetic helpers shared by the
// cart, checkout and register reconciliation paths. All amounts are
// decimal.Decimal; float64 must never enter a money computation.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to the currency minor unit (two decimal places)
// using round-half-up. It is applied once, at the point an amount is
// persisted or displayed; intermediate aggregation stays at full precision.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Percent returns amount × pct / 100 at full precision. Callers round the
// end of the computation chain, not each step.
func Percent(amount decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Clamp bounds amount to the [low, high] interval.
func Clamp(amount, low, high decimal.Decimal) decimal.Decimal {
	if amount.LessThan(low) {
		return low
	}
	if amount.GreaterThan(high) {
		return high
	}
	return amount
}
