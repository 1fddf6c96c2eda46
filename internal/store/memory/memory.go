package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/reconcile"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/xid"
)

// Store is the in-memory repository used for tests and dev mode. All write
// paths take the full lock, so CreateSale's check-then-decrement and
// CloseOpenSession's read-compute-write are atomic by construction.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	salesByID       map[string]*domain.Sale
	sessionsByID    map[string]domain.RegisterSession
	openSessionID   string
	latestSessionID string
	movements       []domain.CashMovement
	heldOrdersByID  map[string]domain.HeldOrder
	taxRatePercent  decimal.Decimal
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; when
// unset, hardcoded dev defaults are used with a warning. Production
// deployments run on PostgreSQL and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	seed := []domain.Product{
		{ID: "P-AGUA-01", Name: "Agua Mineral 500ml", Category: "bebidas", Price: decimal.RequireFromString("1.50"), Stock: 120, Active: true, CreatedAt: now},
		{ID: "P-GASEOSA-01", Name: "Gaseosa Cola 1.5L", Category: "bebidas", Price: decimal.RequireFromString("3.25"), Stock: 80, Active: true, CreatedAt: now},
		{ID: "P-CAFE-01", Name: "Café Molido 250g", Category: "almacen", Price: decimal.RequireFromString("6.80"), Stock: 40, Active: true, CreatedAt: now},
		{ID: "P-AZUCAR-01", Name: "Azúcar 1kg", Category: "almacen", Price: decimal.RequireFromString("2.10"), Stock: 60, Active: true, CreatedAt: now},
		{ID: "P-GALLETA-01", Name: "Galletas Surtidas", Category: "snacks", Price: decimal.RequireFromString("1.95"), Stock: 95, Active: true, CreatedAt: now},
		{ID: "P-PAPAS-01", Name: "Papas Fritas 150g", Category: "snacks", Price: decimal.RequireFromString("2.75"), Stock: 70, Active: true, CreatedAt: now},
		{ID: "P-CHOCOLATE-01", Name: "Chocolate Tableta", Category: "snacks", Price: decimal.RequireFromString("3.40"), Stock: 55, Active: true, CreatedAt: now},
		{ID: "P-LECHE-01", Name: "Leche Entera 1L", Category: "lacteos", Price: decimal.RequireFromString("2.60"), Stock: 48, Active: true, CreatedAt: now},
		{ID: "P-YOGUR-01", Name: "Yogur Bebible", Category: "lacteos", Price: decimal.RequireFromString("1.85"), Stock: 36, Active: true, CreatedAt: now},
		{ID: "P-PAN-01", Name: "Pan Lactal", Category: "panaderia", Price: decimal.RequireFromString("3.90"), Stock: 25, Active: true, CreatedAt: now},
		{ID: "P-JABON-01", Name: "Jabón de Tocador", Category: "limpieza", Price: decimal.RequireFromString("1.70"), Stock: 64, Active: true, CreatedAt: now},
		{ID: "P-LAVANDINA-01", Name: "Lavandina 1L", Category: "limpieza", Price: decimal.RequireFromString("2.30"), Stock: 30, Active: true, CreatedAt: now},
	}

	products := make(map[string]domain.Product, len(seed))
	for _, p := range seed {
		products[p.ID] = p
	}

	return &Store{
		products:        products,
		salesByID:       make(map[string]*domain.Sale),
		sessionsByID:    make(map[string]domain.RegisterSession),
		movements:       make([]domain.CashMovement, 0, 64),
		heldOrdersByID:  make(map[string]domain.HeldOrder),
		taxRatePercent:  decimal.Zero,
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}
	next := product.Stock + delta
	if next < 0 {
		return fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
	}
	product.Stock = next
	s.products[productID] = product
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	// Validate every line before touching stock so a failure leaves
	// nothing decremented.
	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		product, exists := s.products[item.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if product.Stock < item.Qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
	}

	for _, item := range sale.Items {
		product := s.products[item.ProductID]
		product.Stock -= item.Qty
		s.products[item.ProductID] = product
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNumber == "" {
		sale.ReceiptNumber = xid.NewReceiptNumber()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.SessionID = s.openSessionID

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SumSalesBySession(_ context.Context, sessionID string) (domain.SessionSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumSalesLocked(sessionID), nil
}

// sumSalesLocked requires at least a read lock.
func (s *Store) sumSalesLocked(sessionID string) domain.SessionSales {
	sums := domain.SessionSales{
		Cash:     decimal.Zero,
		Card:     decimal.Zero,
		Transfer: decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, sale := range s.salesByID {
		if sale.SessionID != sessionID {
			continue
		}
		switch sale.PaymentMethod {
		case domain.PaymentCash:
			sums.Cash = sums.Cash.Add(sale.Total)
		case domain.PaymentCard:
			sums.Card = sums.Card.Add(sale.Total)
		case domain.PaymentTransfer:
			sums.Transfer = sums.Transfer.Add(sale.Total)
		}
		sums.Total = sums.Total.Add(sale.Total)
		sums.Count++
	}
	return sums
}

func (s *Store) CreateSession(_ context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionID != "" {
		return nil, store.ErrRegisterAlreadyOpen
	}
	if session.OpeningAmount.IsNegative() {
		return nil, store.ErrInvalidAmount
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	session.ClosingAmount = nil
	session.ExpectedAmount = nil
	session.Difference = nil

	s.sessionsByID[session.ID] = session
	s.openSessionID = session.ID
	s.latestSessionID = session.ID
	copySession := session
	return &copySession, nil
}

func (s *Store) GetOpenSession(_ context.Context) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.openSessionID == "" {
		return nil, store.ErrRegisterNotOpen
	}
	session := s.sessionsByID[s.openSessionID]
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseOpenSession(_ context.Context, countedAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionID == "" {
		if s.latestSessionID != "" {
			return nil, store.ErrRegisterClosed
		}
		return nil, store.ErrRegisterNotOpen
	}
	if countedAmount.IsNegative() {
		return nil, store.ErrInvalidAmount
	}

	session := s.sessionsByID[s.openSessionID]

	cashSales := s.sumSalesLocked(session.ID).Cash
	sessionMovements := make([]domain.CashMovement, 0, 8)
	for _, movement := range s.movements {
		if movement.SessionID == session.ID {
			sessionMovements = append(sessionMovements, movement)
		}
	}
	expected := reconcile.Expected(session.OpeningAmount, cashSales, sessionMovements)
	difference, _ := reconcile.Discrepancy(expected, countedAmount)

	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt
	session.ClosingAmount = &countedAmount
	session.ExpectedAmount = &expected
	session.Difference = &difference
	session.ClosingNotes = notes

	s.sessionsByID[session.ID] = session
	s.openSessionID = ""
	copySession := session
	return &copySession, nil
}

func (s *Store) InsertMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionID == "" {
		return nil, store.ErrRegisterNotOpen
	}
	if movement.Type != domain.MovementIncome && movement.Type != domain.MovementExpense {
		return nil, store.ErrInvalidInput
	}
	if !movement.Amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.SessionID = s.openSessionID

	s.movements = append(s.movements, movement)
	copyMovement := movement
	return &copyMovement, nil
}

func (s *Store) ListMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashMovement, 0, 8)
	for _, movement := range s.movements {
		if movement.SessionID == sessionID {
			result = append(result, movement)
		}
	}
	slices.SortFunc(result, func(a, b domain.CashMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateHeldOrder(_ context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("hold")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	s.heldOrdersByID[order.ID] = cloneHeldOrder(order)
	saved := cloneHeldOrder(s.heldOrdersByID[order.ID])
	return &saved, nil
}

func (s *Store) ListHeldOrders(_ context.Context) ([]domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HeldOrder, 0, len(s.heldOrdersByID))
	for _, order := range s.heldOrdersByID {
		result = append(result, cloneHeldOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.HeldOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) PopHeldOrder(_ context.Context, id string) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.heldOrdersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.heldOrdersByID, id)
	result := cloneHeldOrder(order)
	return &result, nil
}

func (s *Store) DeleteHeldOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heldOrdersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.heldOrdersByID, id)
	return nil
}

func (s *Store) GetTaxRate(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.taxRatePercent, nil
}

func (s *Store) SetTaxRate(_ context.Context, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrInvalidAmount
	}
	s.taxRatePercent = rate
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}

func cloneHeldOrder(src domain.HeldOrder) domain.HeldOrder {
	dup := src
	lines := make([]domain.CartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
