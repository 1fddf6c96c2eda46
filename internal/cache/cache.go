package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettingsCache fronts the settings row so the tax rate is not re-read from
// the repository on every totals preview. A miss is not an error.
type SettingsCache interface {
	GetTaxRate(ctx context.Context) (decimal.Decimal, bool, error)
	SetTaxRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error
	InvalidateTaxRate(ctx context.Context) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) GetTaxRate(_ context.Context) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopSettingsCache) SetTaxRate(_ context.Context, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) InvalidateTaxRate(_ context.Context) error {
	return nil
}
