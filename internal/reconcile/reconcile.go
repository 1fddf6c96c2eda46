// Package reconcile derives expected drawer cash and the close-time
// discrepancy for a register session. Functions are pure; callers supply the
// session's attributed cash sales and its exact movement set.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/money"
)

type Sign string

const (
	SignExact Sign = "exact"
	SignOver  Sign = "over"
	SignShort Sign = "short"
)

// Counted amounts within half a cent of expected are treated as exact.
var exactEpsilon = decimal.New(5, -3)

// Expected returns opening + cash sales + Σ(income) − Σ(expense), rounded to
// the minor unit. Movements must be exactly the session's own: mixing in a
// movement recorded outside the session window double-counts cash.
func Expected(openingAmount decimal.Decimal, cashSales decimal.Decimal, movements []domain.CashMovement) decimal.Decimal {
	expected := openingAmount.Add(cashSales)
	for _, movement := range movements {
		switch movement.Type {
		case domain.MovementIncome:
			expected = expected.Add(movement.Amount)
		case domain.MovementExpense:
			expected = expected.Sub(movement.Amount)
		}
	}
	return money.Round(expected)
}

// Discrepancy returns counted − expected and its sign. Differences below the
// epsilon count as exact so that residual rounding noise is not reported as
// an over/short drawer.
func Discrepancy(expected decimal.Decimal, counted decimal.Decimal) (decimal.Decimal, Sign) {
	difference := money.Round(counted.Sub(expected))
	switch {
	case difference.Abs().LessThan(exactEpsilon):
		return difference, SignExact
	case difference.IsPositive():
		return difference, SignOver
	default:
		return difference, SignShort
	}
}
