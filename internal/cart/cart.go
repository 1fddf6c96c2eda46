// Package cart models the in-progress order as an explicit value type with a
// thin mutation API and a pure totals function, so the money math is
// unit-testable independently of how the front end redraws.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/money"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store"
)

// Cart accumulates lines for one customer. Line order is insertion order and
// is preserved for receipt display. The global discount is percent-of-subtotal
// or a fixed amount, never both.
type Cart struct {
	Lines         []domain.CartLine
	DiscountType  string
	DiscountValue decimal.Decimal
	CustomerName  string
	Notes         string
}

func New() *Cart {
	return &Cart{}
}

// AddItem merges qty into the existing line for the product, or appends a new
// line with name and price snapshotted from the catalog. The product's stock
// field is the last-known snapshot; exceeding it fails with
// ErrInsufficientStock (the authoritative check happens again at commit).
func (c *Cart) AddItem(product domain.Product, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: qty must be positive", store.ErrInvalidInput)
	}

	for i := range c.Lines {
		if c.Lines[i].ProductID != product.ID {
			continue
		}
		if c.Lines[i].Qty+qty > product.Stock {
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
		c.Lines[i].Qty += qty
		return nil
	}

	if qty > product.Stock {
		return fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
	}
	c.Lines = append(c.Lines, domain.CartLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Qty:         qty,
	})
	return nil
}

// UpdateQuantity sets the line's quantity. A quantity of zero or less removes
// the line.
func (c *Cart) UpdateQuantity(productID string, qty int) {
	if qty <= 0 {
		c.RemoveItem(productID)
		return
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines[i].Qty = qty
			return
		}
	}
}

func (c *Cart) RemoveItem(productID string) {
	kept := c.Lines[:0]
	for _, line := range c.Lines {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	c.Lines = kept
}

// SetLineDiscount applies a fixed money discount to the product's line. The
// discount reduces that line's contribution to the subtotal, floored at zero
// when it exceeds the line amount.
func (c *Cart) SetLineDiscount(productID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: line discount must not be negative", store.ErrInvalidAmount)
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines[i].LineDiscount = amount
			return nil
		}
	}
	return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
}

// SetDiscount selects the cart-level discount. Passing DiscountNone clears it.
func (c *Cart) SetDiscount(value decimal.Decimal, discountType string) error {
	switch discountType {
	case domain.DiscountNone:
		c.DiscountType = domain.DiscountNone
		c.DiscountValue = decimal.Zero
		return nil
	case domain.DiscountPercent, domain.DiscountFixed:
		if value.IsNegative() {
			return fmt.Errorf("%w: discount must not be negative", store.ErrInvalidAmount)
		}
		c.DiscountType = discountType
		c.DiscountValue = value
		return nil
	default:
		return fmt.Errorf("%w: unknown discount type %q", store.ErrInvalidInput, discountType)
	}
}

// Clear resets the cart to empty, dropping lines, discount, customer and notes.
func (c *Cart) Clear() {
	*c = Cart{}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Totals derives the money breakdown per the §3 formulas: line amounts
// aggregate at full precision, the discount is clamped to [0, subtotal], and
// rounding happens once per figure at the end. An empty cart yields all
// zeros. Totals is pure: it never mutates the cart and may be called on every
// UI refresh.
func (c *Cart) Totals(taxRatePercent decimal.Decimal) domain.CartTotals {
	raw := decimal.Zero
	for _, line := range c.Lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Sub(line.LineDiscount)
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		raw = raw.Add(amount)
	}

	subtotal := money.Round(raw)

	discount := decimal.Zero
	switch c.DiscountType {
	case domain.DiscountPercent:
		discount = money.Percent(raw, c.DiscountValue)
	case domain.DiscountFixed:
		discount = c.DiscountValue
	}
	discount = money.Clamp(money.Round(discount), decimal.Zero, subtotal)

	taxable := subtotal.Sub(discount)
	tax := money.Round(money.Percent(taxable, taxRatePercent))

	return domain.CartTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Taxable:        taxable,
		TaxAmount:      tax,
		Total:          taxable.Add(tax),
	}
}

// Clone returns a deep copy; mutating the original afterwards never affects
// the copy. Used when parking a cart as a held order.
func (c *Cart) Clone() *Cart {
	copied := *c
	copied.Lines = make([]domain.CartLine, len(c.Lines))
	copy(copied.Lines, c.Lines)
	return &copied
}

// DiscountPercentValue reports the percent figure persisted on a sale record:
// the discount value itself for percent discounts, zero otherwise.
func (c *Cart) DiscountPercentValue() decimal.Decimal {
	if c.DiscountType == domain.DiscountPercent {
		return c.DiscountValue
	}
	return decimal.Zero
}
