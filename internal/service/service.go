package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/cache"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/cart"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/money"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/reconcile"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	settings    cache.SettingsCache
	settingsTTL time.Duration
}

func New(repo store.Repository, settings cache.SettingsCache, settingsTTL time.Duration) *Service {
	if settings == nil {
		settings = cache.NoopSettingsCache{}
	}
	if settingsTTL < time.Second {
		settingsTTL = time.Minute
	}

	return &Service{
		repo:        repo,
		settings:    settings,
		settingsTTL: settingsTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if !req.Price.IsPositive() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		Name:     req.Name,
		Category: req.Category,
		Price:    money.Round(req.Price),
		Stock:    req.InitialStock,
		Active:   true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.Stock))

	return *created, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if req.ProductID == "" || req.Delta == 0 {
		return store.ErrInvalidInput
	}

	if err := s.repo.AdjustStock(ctx, req.ProductID, req.Delta); err != nil {
		return err
	}

	s.logAudit(ctx, "stock_adjust", "product", req.ProductID, fmt.Sprintf("delta=%d", req.Delta))
	return nil
}

// TaxRate serves the current rate through the settings cache, falling back to
// the repository on a miss. Cache failures degrade to a direct read.
func (s *Service) TaxRate(ctx context.Context) (decimal.Decimal, error) {
	rate, hit, err := s.settings.GetTaxRate(ctx)
	if err != nil {
		log.Printf("[service] WARN: settings cache read failed: %v", err)
	}
	if hit {
		return rate, nil
	}

	rate, err = s.repo.GetTaxRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.settings.SetTaxRate(ctx, rate, s.settingsTTL); err != nil {
		log.Printf("[service] WARN: settings cache write failed: %v", err)
	}
	return rate, nil
}

func (s *Service) UpdateTaxRate(ctx context.Context, rate decimal.Decimal) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.SetTaxRate(ctx, rate); err != nil {
		return err
	}
	if err := s.settings.InvalidateTaxRate(ctx); err != nil {
		log.Printf("[service] WARN: settings cache invalidate failed: %v", err)
	}

	s.logAudit(ctx, "tax_rate_update", "settings", "tax_rate", rate.StringFixed(2))
	return nil
}

// buildCart resolves request items against the current catalog, merging
// duplicate lines and snapshotting names and prices.
func (s *Service) buildCart(ctx context.Context, items []domain.CheckoutItem, discountType string, discountValue decimal.Decimal) (*cart.Cart, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	c := cart.New()
	for _, item := range items {
		product, exists := products[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if err := c.AddItem(product, item.Qty); err != nil {
			return nil, err
		}
		if !item.LineDiscount.IsZero() {
			if err := c.SetLineDiscount(item.ProductID, item.LineDiscount); err != nil {
				return nil, err
			}
		}
	}

	if discountType != domain.DiscountNone {
		if err := c.SetDiscount(discountValue, discountType); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// CartTotals previews totals for a cart without committing anything.
func (s *Service) CartTotals(ctx context.Context, req domain.CartTotalsRequest) (domain.CartTotalsResponse, error) {
	c, err := s.buildCart(ctx, req.Items, req.DiscountType, req.DiscountValue)
	if err != nil {
		return domain.CartTotalsResponse{}, err
	}

	rate, err := s.TaxRate(ctx)
	if err != nil {
		return domain.CartTotalsResponse{}, err
	}

	return domain.CartTotalsResponse{
		Totals:         c.Totals(rate),
		TaxRatePercent: rate,
	}, nil
}

// Checkout turns a cart into a committed sale. The repository call is the
// atomic step: it re-validates stock, decrements it, and stamps the open
// session, all or nothing. Prices and totals are frozen here from the cart,
// not recomputed at commit time.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
	default:
		return domain.CheckoutResponse{}, fmt.Errorf("%w: payment method %q", store.ErrInvalidInput, req.PaymentMethod)
	}

	c, err := s.buildCart(ctx, req.Items, req.DiscountType, req.DiscountValue)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	c.CustomerName = strings.TrimSpace(req.CustomerName)
	c.Notes = strings.TrimSpace(req.Notes)

	rate, err := s.TaxRate(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	totals := c.Totals(rate)

	// The received amount is optional for cash: when omitted the sale commits
	// with zero change (exact payment assumed).
	change := decimal.Zero
	if req.PaymentMethod == domain.PaymentCash && req.ReceivedAmount != nil {
		received := *req.ReceivedAmount
		if received.IsNegative() {
			return domain.CheckoutResponse{}, store.ErrInvalidAmount
		}
		if received.LessThan(totals.Total) {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: received below total", store.ErrInvalidAmount)
		}
		change = received.Sub(totals.Total)
	}

	items := make([]domain.SaleItem, 0, len(c.Lines))
	for _, line := range c.Lines {
		lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Sub(line.LineDiscount)
		if lineSubtotal.IsNegative() {
			lineSubtotal = decimal.Zero
		}
		items = append(items, domain.SaleItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice,
			Subtotal:    money.Round(lineSubtotal),
		})
	}

	sale := domain.Sale{
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.DiscountAmount,
		DiscountPercent: c.DiscountPercentValue(),
		TaxAmount:       totals.TaxAmount,
		Total:           totals.Total,
		PaymentMethod:   req.PaymentMethod,
		CustomerName:    c.CustomerName,
		Notes:           c.Notes,
		Items:           items,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, "sale_commit", "sale", created.ID, fmt.Sprintf("receipt=%s,total=%s,method=%s", created.ReceiptNumber, created.Total.StringFixed(2), created.PaymentMethod))

	return domain.CheckoutResponse{Sale: *created, Change: change}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if from.IsZero() {
		from = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if to.IsZero() {
		to = from.Add(24 * time.Hour)
	}
	if !from.Before(to) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

// HoldOrder parks the cart as a snapshot. No stock is reserved; the parked
// lines compete for inventory like everyone else when resumed.
func (s *Service) HoldOrder(ctx context.Context, req domain.HoldOrderRequest) (domain.HeldOrder, error) {
	c, err := s.buildCart(ctx, req.Items, req.DiscountType, req.DiscountValue)
	if err != nil {
		return domain.HeldOrder{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "orden " + time.Now().UTC().Format("15:04:05")
	}

	order := domain.HeldOrder{
		Name:          name,
		Lines:         c.Clone().Lines,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		Notes:         strings.TrimSpace(req.Notes),
	}

	created, err := s.repo.CreateHeldOrder(ctx, order)
	if err != nil {
		return domain.HeldOrder{}, err
	}

	s.logAudit(ctx, "order_hold", "held_order", created.ID, fmt.Sprintf("lines=%d", len(created.Lines)))
	return *created, nil
}

func (s *Service) ListHeldOrders(ctx context.Context) ([]domain.HeldOrder, error) {
	return s.repo.ListHeldOrders(ctx)
}

// ResumeHeldOrder pops the snapshot and re-resolves every line against the
// current catalog: prices and names refresh, and lines whose product is gone
// or inactive are dropped and reported. Quantities are kept even when they
// exceed current stock; the commit-time check decides.
func (s *Service) ResumeHeldOrder(ctx context.Context, id string) (domain.ResumeHeldOrderResponse, error) {
	order, err := s.repo.PopHeldOrder(ctx, id)
	if err != nil {
		return domain.ResumeHeldOrderResponse{}, err
	}

	ids := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.ResumeHeldOrderResponse{}, err
	}

	resolved := make([]domain.CartLine, 0, len(order.Lines))
	dropped := make([]string, 0)
	for _, line := range order.Lines {
		product, exists := products[line.ProductID]
		if !exists {
			dropped = append(dropped, line.ProductID)
			continue
		}
		line.ProductName = product.Name
		line.UnitPrice = product.Price
		resolved = append(resolved, line)
	}
	order.Lines = resolved

	s.logAudit(ctx, "order_resume", "held_order", order.ID, fmt.Sprintf("lines=%d,dropped=%d", len(resolved), len(dropped)))

	resp := domain.ResumeHeldOrderResponse{Order: *order}
	if len(dropped) > 0 {
		resp.DroppedProductIDs = dropped
	}
	return resp, nil
}

func (s *Service) DiscardHeldOrder(ctx context.Context, id string) error {
	if err := s.repo.DeleteHeldOrder(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "order_discard", "held_order", id, "")
	return nil
}

func (s *Service) OpenRegister(ctx context.Context, req domain.RegisterOpenRequest) (domain.RegisterSession, error) {
	if req.OpeningAmount.IsNegative() {
		return domain.RegisterSession{}, store.ErrInvalidAmount
	}

	session, err := s.repo.CreateSession(ctx, domain.RegisterSession{
		OpeningAmount: money.Round(req.OpeningAmount),
	})
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(ctx, "register_open", "register_session", session.ID, fmt.Sprintf("opening=%s", session.OpeningAmount.StringFixed(2)))
	return *session, nil
}

func (s *Service) AddMovement(ctx context.Context, req domain.MovementRequest) (domain.CashMovement, error) {
	if req.Type != domain.MovementIncome && req.Type != domain.MovementExpense {
		return domain.CashMovement{}, fmt.Errorf("%w: movement type %q", store.ErrInvalidInput, req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovement{}, store.ErrInvalidAmount
	}

	movement, err := s.repo.InsertMovement(ctx, domain.CashMovement{
		Type:        req.Type,
		Amount:      money.Round(req.Amount),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, "register_movement", "cash_movement", movement.ID, fmt.Sprintf("type=%s,amount=%s", movement.Type, movement.Amount.StringFixed(2)))
	return *movement, nil
}

func (s *Service) CloseRegister(ctx context.Context, req domain.RegisterCloseRequest) (domain.RegisterSession, error) {
	if req.CountedAmount.IsNegative() {
		return domain.RegisterSession{}, store.ErrInvalidAmount
	}

	session, err := s.repo.CloseOpenSession(ctx, money.Round(req.CountedAmount), strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return domain.RegisterSession{}, err
	}

	detail := fmt.Sprintf("counted=%s,expected=%s,difference=%s",
		session.ClosingAmount.StringFixed(2), session.ExpectedAmount.StringFixed(2), session.Difference.StringFixed(2))
	s.logAudit(ctx, "register_close", "register_session", session.ID, detail)
	return *session, nil
}

// RegisterSummary reports the open session's live state: per-method sales
// sums, movement totals, and the expected drawer cash so far.
func (s *Service) RegisterSummary(ctx context.Context) (domain.RegisterSummary, error) {
	session, err := s.repo.GetOpenSession(ctx)
	if err != nil {
		return domain.RegisterSummary{}, err
	}

	sales, err := s.repo.SumSalesBySession(ctx, session.ID)
	if err != nil {
		return domain.RegisterSummary{}, err
	}

	movements, err := s.repo.ListMovements(ctx, session.ID)
	if err != nil {
		return domain.RegisterSummary{}, err
	}

	income := decimal.Zero
	expense := decimal.Zero
	for _, movement := range movements {
		switch movement.Type {
		case domain.MovementIncome:
			income = income.Add(movement.Amount)
		case domain.MovementExpense:
			expense = expense.Add(movement.Amount)
		}
	}

	return domain.RegisterSummary{
		Session:         *session,
		Sales:           sales,
		MovementIncome:  income,
		MovementExpense: expense,
		ExpectedCash:    reconcile.Expected(session.OpeningAmount, sales.Cash, movements),
		Movements:       movements,
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if from.IsZero() {
		from = time.Now().UTC().Add(-24 * time.Hour)
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
