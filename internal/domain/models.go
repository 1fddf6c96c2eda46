package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

// CartLine is one line of an in-progress order. ProductName and UnitPrice are
// snapshots taken when the line was added; catalog changes do not rewrite them.
type CartLine struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Qty          int             `json:"qty"`
	LineDiscount decimal.Decimal `json:"line_discount"`
}

// CartTotals is the derived money breakdown of a cart. Total is always
// Taxable + TaxAmount, and Taxable is always Subtotal − DiscountAmount.
type CartTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Taxable        decimal.Decimal `json:"taxable"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

const (
	DiscountNone    = ""
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

type SaleItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Sale is the immutable record produced by committing a cart. Items are a
// frozen copy of the cart lines; corrections happen through separate flows,
// never by mutating a persisted sale.
type Sale struct {
	ID              string          `json:"id"`
	ReceiptNumber   string          `json:"receipt_number"`
	SessionID       string          `json:"session_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []SaleItem      `json:"items"`
}

type CheckoutItem struct {
	ProductID    string          `json:"product_id"`
	Qty          int             `json:"qty"`
	LineDiscount decimal.Decimal `json:"line_discount"`
}

type CheckoutRequest struct {
	Items          []CheckoutItem   `json:"items"`
	DiscountType   string           `json:"discount_type,omitempty"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	CustomerName   string           `json:"customer_name,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	PaymentMethod  string           `json:"payment_method"`
	ReceivedAmount *decimal.Decimal `json:"received_amount,omitempty"`
}

type CheckoutResponse struct {
	Sale   Sale            `json:"sale"`
	Change decimal.Decimal `json:"change"`
}

type CartTotalsRequest struct {
	Items         []CheckoutItem  `json:"items"`
	DiscountType  string          `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type CartTotalsResponse struct {
	Totals         CartTotals      `json:"totals"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
}

// HeldOrder is a parked cart snapshot. It holds no claim on stock and is
// removed the moment it is resumed or discarded.
type HeldOrder struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Lines         []CartLine      `json:"lines"`
	DiscountType  string          `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type HoldOrderRequest struct {
	Name          string          `json:"name,omitempty"`
	Items         []CheckoutItem  `json:"items"`
	DiscountType  string          `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

type HeldOrderListResponse struct {
	Orders []HeldOrder `json:"orders"`
}

// ResumeHeldOrderResponse carries the rebuilt cart. Lines are re-resolved
// against the current catalog; DroppedProductIDs lists lines whose product no
// longer exists and were silently removed.
type ResumeHeldOrderResponse struct {
	Order             HeldOrder `json:"order"`
	DroppedProductIDs []string  `json:"dropped_product_ids,omitempty"`
}

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	MovementIncome  = "income"
	MovementExpense = "expense"
)

// RegisterSession is one open→closed lifecycle of the cash drawer. The
// closing fields stay nil until Close; a closed session is never reopened.
type RegisterSession struct {
	ID             string           `json:"id"`
	OpeningAmount  decimal.Decimal  `json:"opening_amount"`
	Status         string           `json:"status"`
	OpenedAt       time.Time        `json:"opened_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	ClosingAmount  *decimal.Decimal `json:"closing_amount,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	Difference     *decimal.Decimal `json:"difference,omitempty"`
	ClosingNotes   string           `json:"closing_notes,omitempty"`
}

// CashMovement is a manual drawer adjustment recorded while a session is
// open. Movements are immutable and survive the session close for audit.
type CashMovement struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RegisterOpenRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type RegisterCloseRequest struct {
	CountedAmount decimal.Decimal `json:"counted_amount"`
	Notes         string          `json:"notes,omitempty"`
}

type MovementRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// SessionSales are the per-payment-method aggregates of the sales attributed
// to one register session, recomputed on demand.
type SessionSales struct {
	Cash     decimal.Decimal `json:"cash"`
	Card     decimal.Decimal `json:"card"`
	Transfer decimal.Decimal `json:"transfer"`
	Total    decimal.Decimal `json:"total"`
	Count    int64           `json:"count"`
}

type RegisterSummary struct {
	Session         RegisterSession `json:"session"`
	Sales           SessionSales    `json:"sales"`
	MovementIncome  decimal.Decimal `json:"movement_income"`
	MovementExpense decimal.Decimal `json:"movement_expense"`
	ExpectedCash    decimal.Decimal `json:"expected_cash"`
	Movements       []CashMovement  `json:"movements"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type TaxRateResponse struct {
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
}

type TaxRateUpdateRequest struct {
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
}
