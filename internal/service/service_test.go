package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/cache"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSettingsCache{}, 5*time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

func stockOf(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	products, err := svc.repo.GetProductsByIDs(context.Background(), []string{productID})
	if err != nil {
		t.Fatalf("stock lookup failed: %v", err)
	}
	p, ok := products[productID]
	if !ok {
		t.Fatalf("product %s not found", productID)
	}
	return p.Stock
}

func TestCheckoutDecrementsStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	before := stockOf(t, svc, "P-AGUA-01")

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 3}},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if got := stockOf(t, svc, "P-AGUA-01"); got != before-3 {
		t.Fatalf("stock = %d, want %d", got, before-3)
	}
	if resp.Sale.ReceiptNumber == "" {
		t.Fatalf("expected a receipt number")
	}
	if len(resp.Sale.Items) != 1 || resp.Sale.Items[0].Qty != 3 {
		t.Fatalf("unexpected sale items: %+v", resp.Sale.Items)
	}
}

func TestCheckoutRejectsUnknownPaymentMethod(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
		PaymentMethod: "barter",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCheckoutCashRequiresSufficientReceived(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Agua at 1.50, qty 2 -> total 3.00 with zero tax.
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 2}},
		PaymentMethod:  domain.PaymentCash,
		ReceivedAmount: decPtr(t, "2.00"),
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for underpayment, got %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 2}},
		PaymentMethod:  domain.PaymentCash,
		ReceivedAmount: decPtr(t, "5.00"),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Change.Equal(dec(t, "2.00")) {
		t.Fatalf("change = %s, want 2.00", resp.Change)
	}
}

func TestCheckoutCashWithoutReceivedAmount(t *testing.T) {
	svc := newTestService()

	// Omitting the received amount means exact payment: the sale commits and
	// change is zero.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 2}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("cash checkout without received amount failed: %v", err)
	}
	if !resp.Change.IsZero() {
		t.Fatalf("change = %s, want 0", resp.Change)
	}
	if !resp.Sale.Total.Equal(dec(t, "3.00")) {
		t.Fatalf("total = %s, want 3.00", resp.Sale.Total)
	}
}

func TestCheckoutLineDiscountReducesTotals(t *testing.T) {
	svc := newTestService()

	// Galletas at 1.95 x 2 = 3.90, line discount 0.90 -> 3.00.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: "P-GALLETA-01", Qty: 2, LineDiscount: dec(t, "0.90")},
		},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Sale.Subtotal.Equal(dec(t, "3.00")) {
		t.Fatalf("subtotal = %s, want 3.00", resp.Sale.Subtotal)
	}
	if len(resp.Sale.Items) != 1 || !resp.Sale.Items[0].Subtotal.Equal(dec(t, "3.00")) {
		t.Fatalf("frozen line subtotal = %+v, want 3.00", resp.Sale.Items)
	}

	_, err = svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: "P-GALLETA-01", Qty: 1, LineDiscount: dec(t, "-1")},
		},
		PaymentMethod: domain.PaymentCard,
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative line discount, got %v", err)
	}
}

func TestSequentialCheckoutsCannotOversell(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Drain pan lactal (stock 25) down to 1.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-PAN-01", Qty: 24}},
		PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("drain checkout failed: %v", err)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-PAN-01", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("last-unit checkout failed: %v", err)
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-PAN-01", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := stockOf(t, svc, "P-PAN-01"); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
}

func TestConcurrentCheckoutsLastUnitExactlyOneSucceeds(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Leave exactly one unit of yogur (stock 36).
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-YOGUR-01", Qty: 35}},
		PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("drain checkout failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(ctx, domain.CheckoutRequest{
				Items:         []domain.CheckoutItem{{ProductID: "P-YOGUR-01", Qty: 1}},
				PaymentMethod: domain.PaymentCard,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error from racing checkout: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", succeeded)
	}
	if got := stockOf(t, svc, "P-YOGUR-01"); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
}

func TestCartTotalsPreviewUsesStoredTaxRate(t *testing.T) {
	svc := newTestService()

	if err := svc.UpdateTaxRate(adminCtx(), dec(t, "8")); err != nil {
		t.Fatalf("tax rate update failed: %v", err)
	}

	// Café at 6.80, qty 2 -> 13.60, tax 8% -> 1.09 (half-up), total 14.69.
	resp, err := svc.CartTotals(cashierCtx(), domain.CartTotalsRequest{
		Items: []domain.CheckoutItem{{ProductID: "P-CAFE-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("totals failed: %v", err)
	}
	if !resp.TaxRatePercent.Equal(dec(t, "8")) {
		t.Fatalf("rate = %s, want 8", resp.TaxRatePercent)
	}
	if !resp.Totals.TaxAmount.Equal(dec(t, "1.09")) {
		t.Fatalf("tax = %s, want 1.09", resp.Totals.TaxAmount)
	}
	if !resp.Totals.Total.Equal(dec(t, "14.69")) {
		t.Fatalf("total = %s, want 14.69", resp.Totals.Total)
	}
}

func TestUpdateTaxRateRequiresAdmin(t *testing.T) {
	svc := newTestService()

	if err := svc.UpdateTaxRate(cashierCtx(), dec(t, "10")); err == nil {
		t.Fatalf("expected cashier tax rate update to fail")
	}
}

func TestHoldAndResumeRoundtrip(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	held, err := svc.HoldOrder(ctx, domain.HoldOrderRequest{
		Name: "mesa 4",
		Items: []domain.CheckoutItem{
			{ProductID: "P-AGUA-01", Qty: 2},
			{ProductID: "P-GALLETA-01", Qty: 1},
		},
		DiscountType:  domain.DiscountPercent,
		DiscountValue: dec(t, "5"),
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	// Holding reserves nothing.
	if got := stockOf(t, svc, "P-AGUA-01"); got != 120 {
		t.Fatalf("stock = %d, want 120 after hold", got)
	}

	orders, err := svc.ListHeldOrders(ctx)
	if err != nil || len(orders) != 1 {
		t.Fatalf("list held orders = %d orders, err %v", len(orders), err)
	}

	resumed, err := svc.ResumeHeldOrder(ctx, held.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(resumed.Order.Lines) != 2 {
		t.Fatalf("expected 2 resumed lines, got %d", len(resumed.Order.Lines))
	}
	if len(resumed.DroppedProductIDs) != 0 {
		t.Fatalf("unexpected dropped products: %v", resumed.DroppedProductIDs)
	}
	if resumed.Order.DiscountType != domain.DiscountPercent {
		t.Fatalf("discount type lost on resume: %q", resumed.Order.DiscountType)
	}

	// Resume is a pop: a second resume must miss.
	if _, err := svc.ResumeHeldOrder(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second resume, got %v", err)
	}
}

func TestResumeDropsVanishedProducts(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Build a held order referencing a product that will disappear.
	order, err := svc.repo.CreateHeldOrder(context.Background(), domain.HeldOrder{
		Name: "con fantasma",
		Lines: []domain.CartLine{
			{ProductID: "P-AGUA-01", ProductName: "Agua Mineral 500ml", UnitPrice: dec(t, "1.50"), Qty: 1},
			{ProductID: "P-DESAPARECIDO", ProductName: "Ya No Existe", UnitPrice: dec(t, "9.99"), Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("seed held order failed: %v", err)
	}

	resumed, err := svc.ResumeHeldOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(resumed.Order.Lines) != 1 || resumed.Order.Lines[0].ProductID != "P-AGUA-01" {
		t.Fatalf("expected only the surviving line, got %+v", resumed.Order.Lines)
	}
	if len(resumed.DroppedProductIDs) != 1 || resumed.DroppedProductIDs[0] != "P-DESAPARECIDO" {
		t.Fatalf("dropped = %v, want [P-DESAPARECIDO]", resumed.DroppedProductIDs)
	}
}

func TestDiscardHeldOrder(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	held, err := svc.HoldOrder(ctx, domain.HoldOrderRequest{
		Items: []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	if err := svc.DiscardHeldOrder(ctx, held.ID); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if err := svc.DiscardHeldOrder(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double discard, got %v", err)
	}
}

func TestRegisterLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Close before any open.
	_, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{CountedAmount: dec(t, "0")})
	if !errors.Is(err, store.ErrRegisterNotOpen) {
		t.Fatalf("expected ErrRegisterNotOpen, got %v", err)
	}

	session, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningAmount: dec(t, "100.00")})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if session.Status != domain.SessionStatusOpen {
		t.Fatalf("status = %q, want open", session.Status)
	}

	// Double open.
	_, err = svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningAmount: dec(t, "50.00")})
	if !errors.Is(err, store.ErrRegisterAlreadyOpen) {
		t.Fatalf("expected ErrRegisterAlreadyOpen, got %v", err)
	}

	// Cash sale inside the session: agua 1.50 x 3 = 4.50.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 3}},
		PaymentMethod:  domain.PaymentCash,
		ReceivedAmount: decPtr(t, "10.00"),
	}); err != nil {
		t.Fatalf("cash checkout failed: %v", err)
	}

	// Card sale must not move expected cash.
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-GASEOSA-01", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("card checkout failed: %v", err)
	}

	if _, err := svc.AddMovement(ctx, domain.MovementRequest{
		Type: domain.MovementIncome, Amount: dec(t, "20.00"), Description: "cambio extra",
	}); err != nil {
		t.Fatalf("income movement failed: %v", err)
	}
	if _, err := svc.AddMovement(ctx, domain.MovementRequest{
		Type: domain.MovementExpense, Amount: dec(t, "10.00"), Description: "pago proveedor",
	}); err != nil {
		t.Fatalf("expense movement failed: %v", err)
	}

	summary, err := svc.RegisterSummary(ctx)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.Sales.Cash.Equal(dec(t, "4.50")) {
		t.Fatalf("cash sales = %s, want 4.50", summary.Sales.Cash)
	}
	if !summary.Sales.Card.Equal(dec(t, "3.25")) {
		t.Fatalf("card sales = %s, want 3.25", summary.Sales.Card)
	}
	if summary.Sales.Count != 2 {
		t.Fatalf("sales count = %d, want 2", summary.Sales.Count)
	}
	// expected = 100 + 4.50 + 20 - 10 = 114.50
	if !summary.ExpectedCash.Equal(dec(t, "114.50")) {
		t.Fatalf("expected cash = %s, want 114.50", summary.ExpectedCash)
	}

	closed, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{
		CountedAmount: dec(t, "110.00"),
		Notes:         "faltante sin explicar",
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Status != domain.SessionStatusClosed {
		t.Fatalf("status = %q, want closed", closed.Status)
	}
	if closed.ExpectedAmount == nil || !closed.ExpectedAmount.Equal(dec(t, "114.50")) {
		t.Fatalf("expected amount = %v, want 114.50", closed.ExpectedAmount)
	}
	if closed.Difference == nil || !closed.Difference.Equal(dec(t, "-4.50")) {
		t.Fatalf("difference = %v, want -4.50", closed.Difference)
	}

	// Second close: session already closed.
	_, err = svc.CloseRegister(ctx, domain.RegisterCloseRequest{CountedAmount: dec(t, "0")})
	if !errors.Is(err, store.ErrRegisterClosed) {
		t.Fatalf("expected ErrRegisterClosed, got %v", err)
	}
}

func TestMovementRequiresOpenSessionAndPositiveAmount(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	_, err := svc.AddMovement(ctx, domain.MovementRequest{
		Type: domain.MovementIncome, Amount: dec(t, "5.00"),
	})
	if !errors.Is(err, store.ErrRegisterNotOpen) {
		t.Fatalf("expected ErrRegisterNotOpen, got %v", err)
	}

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningAmount: dec(t, "0")}); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err = svc.AddMovement(ctx, domain.MovementRequest{
		Type: domain.MovementIncome, Amount: dec(t, "0"),
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}

	_, err = svc.AddMovement(ctx, domain.MovementRequest{
		Type: "transfer", Amount: dec(t, "5.00"),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad type, got %v", err)
	}
}

func TestSaleOutsideSessionHasNoSessionID(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "P-AGUA-01", Qty: 1}},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Sale.SessionID != "" {
		t.Fatalf("expected empty session id, got %q", resp.Sale.SessionID)
	}
}

func TestCloseTwicePreservesFirstReconciliation(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningAmount: dec(t, "30.00")}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	first, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{CountedAmount: dec(t, "31.00")})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := svc.CloseRegister(ctx, domain.RegisterCloseRequest{CountedAmount: dec(t, "99.00")}); err == nil {
		t.Fatalf("expected second close to fail")
	}

	// Reopen and verify the first close's figures were not rewritten.
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningAmount: dec(t, "5.00")}); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if first.ClosingAmount == nil || !first.ClosingAmount.Equal(dec(t, "31.00")) {
		t.Fatalf("first close counted = %v, want 31.00", first.ClosingAmount)
	}
	if first.Difference == nil || !first.Difference.Equal(dec(t, "1.00")) {
		t.Fatalf("first close difference = %v, want 1.00", first.Difference)
	}
}

func TestCreateProductAndAdjustStockRequireAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name: "Caramelos", Category: "snacks", Price: dec(t, "0.50"), InitialStock: 10,
	})
	if err == nil {
		t.Fatalf("expected cashier product create to fail")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name: "Caramelos", Category: "snacks", Price: dec(t, "0.50"), InitialStock: 10,
	})
	if err != nil {
		t.Fatalf("admin product create failed: %v", err)
	}

	if err := svc.AdjustStock(adminCtx(), domain.StockAdjustRequest{ProductID: created.ID, Delta: 5}); err != nil {
		t.Fatalf("stock adjust failed: %v", err)
	}
	if got := stockOf(t, svc, created.ID); got != 15 {
		t.Fatalf("stock = %d, want 15", got)
	}

	if err := svc.AdjustStock(adminCtx(), domain.StockAdjustRequest{ProductID: created.ID, Delta: -20}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock on negative drive, got %v", err)
	}
}

func TestAuditTrailRecordsActions(t *testing.T) {
	svc := newTestService()

	if _, err := svc.OpenRegister(cashierCtx(), domain.RegisterOpenRequest{OpeningAmount: dec(t, "10.00")}); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "register_open" && entry.ActorUsername == "cashier" {
			found = true
		}
	}
	if !found {
		t.Fatalf("register_open audit entry missing, got %+v", logs)
	}

	if _, err := svc.ListAuditLogs(cashierCtx(), time.Time{}, time.Time{}, 10); err == nil {
		t.Fatalf("expected cashier audit log access to fail")
	}
}
