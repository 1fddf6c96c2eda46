package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestExpectedCombinesOpeningSalesAndMovements(t *testing.T) {
	movements := []domain.CashMovement{
		{Type: domain.MovementIncome, Amount: dec(t, "20.00")},
		{Type: domain.MovementExpense, Amount: dec(t, "10.00")},
	}

	expected := Expected(dec(t, "100.00"), dec(t, "45.50"), movements)
	if !expected.Equal(dec(t, "155.50")) {
		t.Fatalf("expected = %s, want 155.50", expected)
	}
}

func TestExpectedWithNoMovements(t *testing.T) {
	expected := Expected(dec(t, "50.00"), dec(t, "0"), nil)
	if !expected.Equal(dec(t, "50.00")) {
		t.Fatalf("expected = %s, want 50.00", expected)
	}
}

func TestDiscrepancyShort(t *testing.T) {
	difference, sign := Discrepancy(dec(t, "155.50"), dec(t, "150.00"))
	if !difference.Equal(dec(t, "-5.50")) {
		t.Fatalf("difference = %s, want -5.50", difference)
	}
	if sign != SignShort {
		t.Fatalf("sign = %s, want short", sign)
	}
}

func TestDiscrepancyOver(t *testing.T) {
	difference, sign := Discrepancy(dec(t, "100.00"), dec(t, "101.25"))
	if !difference.Equal(dec(t, "1.25")) {
		t.Fatalf("difference = %s, want 1.25", difference)
	}
	if sign != SignOver {
		t.Fatalf("sign = %s, want over", sign)
	}
}

func TestDiscrepancyEpsilonCountsAsExact(t *testing.T) {
	difference, sign := Discrepancy(dec(t, "100.00"), dec(t, "100.004"))
	if sign != SignExact {
		t.Fatalf("sign = %s, want exact for sub-epsilon difference %s", sign, difference)
	}

	_, sign = Discrepancy(dec(t, "100.00"), dec(t, "100.01"))
	if sign != SignOver {
		t.Fatalf("sign = %s, want over at a full cent", sign)
	}
}
