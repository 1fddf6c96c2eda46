package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/reconcile"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/store"
	"github.com/orelvisrguez/SmartKiosco-sub000/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, stock, active, created_at
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || !product.Price.IsPositive() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, product.ID, product.Name, product.Category, product.Price, product.Stock, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, stock, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.Price, &product.Stock, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, stock, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing product from a decrement past zero.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1`, productID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		return store.ErrInsufficientStock
	}
	return nil
}

// CreateSale runs the whole commit in one serializable transaction: lock the
// product rows in id order, re-check stock, decrement, insert the sale header
// and its items, and stamp the open session id if a session is open. A
// serialization failure surfaces as ErrCommitConflict so callers can retry.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	if len(ids) == 0 {
		return nil, store.ErrInvalidInput
	}
	// Locking in a stable order avoids deadlocks between concurrent commits.
	sort.Strings(ids)

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, stock
		FROM products
		WHERE active = true AND id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, txError(err)
	}
	type productState struct {
		name  string
		stock int
	}
	stockByID := make(map[string]productState, len(ids))
	for productRows.Next() {
		var id, name string
		var stock int
		if err := productRows.Scan(&id, &name, &stock); err != nil {
			_ = productRows.Close()
			return nil, txError(err)
		}
		stockByID[id] = productState{name: name, stock: stock}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, txError(err)
	}
	_ = productRows.Close()

	need := make(map[string]int, len(ids))
	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		need[item.ProductID] += item.Qty
	}
	for _, id := range ids {
		state, exists := stockByID[id]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		if state.stock < need[id] {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, state.name)
		}
	}

	for _, id := range ids {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND stock >= $1
		`, need[id], id)
		if err != nil {
			return nil, txError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, txError(err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, stockByID[id].name)
		}
	}

	// FOR SHARE pins the open session row so a concurrent close serializes
	// against this commit: the sale lands either inside or after the session,
	// never half in.
	var sessionID sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM register_sessions
		WHERE status = 'open'
		FOR SHARE
	`).Scan(&sessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, txError(err)
	}
	if sessionID.Valid {
		sale.SessionID = sessionID.String
	} else {
		sale.SessionID = ""
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_number, session_id, subtotal, discount_amount, discount_percent,
			tax_amount, total, payment_method, customer_name, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.ReceiptNumber, nullIfEmpty(sale.SessionID), sale.Subtotal, sale.DiscountAmount,
		sale.DiscountPercent, sale.TaxAmount, sale.Total, sale.PaymentMethod,
		nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.Notes), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrCommitConflict
		}
		return nil, txError(err)
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, item.ProductID, item.ProductName, item.Qty, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, txError(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var sessionID, customerName, notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_number, session_id, subtotal, discount_amount, discount_percent,
			tax_amount, total, payment_method, customer_name, notes, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.ReceiptNumber, &sessionID, &sale.Subtotal, &sale.DiscountAmount,
		&sale.DiscountPercent, &sale.TaxAmount, &sale.Total, &sale.PaymentMethod,
		&customerName, &notes, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SessionID = sessionID.String
	sale.CustomerName = customerName.String
	sale.Notes = notes.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items

	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Qty, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_number, session_id, subtotal, discount_amount, discount_percent,
			tax_amount, total, payment_method, customer_name, notes, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var sessionID, customerName, notes sql.NullString
		if err := rows.Scan(&sale.ID, &sale.ReceiptNumber, &sessionID, &sale.Subtotal, &sale.DiscountAmount,
			&sale.DiscountPercent, &sale.TaxAmount, &sale.Total, &sale.PaymentMethod,
			&customerName, &notes, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.SessionID = sessionID.String
		sale.CustomerName = customerName.String
		sale.Notes = notes.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}

	return sales, nil
}

func (s *Store) SumSalesBySession(ctx context.Context, sessionID string) (domain.SessionSales, error) {
	var sums domain.SessionSales
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total) FILTER (WHERE payment_method = 'cash'), 0),
			COALESCE(SUM(total) FILTER (WHERE payment_method = 'card'), 0),
			COALESCE(SUM(total) FILTER (WHERE payment_method = 'transfer'), 0),
			COALESCE(SUM(total), 0),
			COUNT(*)
		FROM sales
		WHERE session_id = $1
	`, sessionID).Scan(&sums.Cash, &sums.Card, &sums.Transfer, &sums.Total, &sums.Count)
	if err != nil {
		return domain.SessionSales{}, err
	}
	return sums, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
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

	// The partial unique index on status='open' makes a second concurrent
	// open fail with a unique violation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_sessions (id, opening_amount, status, opened_at)
		VALUES ($1,$2,$3,$4)
	`, session.ID, session.OpeningAmount, session.Status, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrRegisterAlreadyOpen
		}
		return nil, err
	}

	created := session
	return &created, nil
}

func (s *Store) GetOpenSession(ctx context.Context) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, opening_amount, status, opened_at
		FROM register_sessions
		WHERE status = 'open'
	`).Scan(&session.ID, &session.OpeningAmount, &session.Status, &session.OpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRegisterNotOpen
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	return &session, nil
}

func (s *Store) CloseOpenSession(ctx context.Context, countedAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.RegisterSession, error) {
	if countedAmount.IsNegative() {
		return nil, store.ErrInvalidAmount
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var session domain.RegisterSession
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, opening_amount, status, opened_at
		FROM register_sessions
		WHERE status = 'open'
		FOR UPDATE
	`).Scan(&session.ID, &session.OpeningAmount, &session.Status, &session.OpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.noOpenSessionError(ctx)
		}
		return nil, txError(err)
	}
	session.OpenedAt = session.OpenedAt.UTC()

	var cashSales decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM sales
		WHERE session_id = $1 AND payment_method = 'cash'
	`, session.ID).Scan(&cashSales)
	if err != nil {
		return nil, txError(err)
	}

	movementRows, err := pgTx.QueryContext(ctx, `
		SELECT id, session_id, type, amount, description, created_at
		FROM cash_movements
		WHERE session_id = $1
	`, session.ID)
	if err != nil {
		return nil, txError(err)
	}
	movements := make([]domain.CashMovement, 0, 8)
	for movementRows.Next() {
		var movement domain.CashMovement
		if err := movementRows.Scan(&movement.ID, &movement.SessionID, &movement.Type, &movement.Amount, &movement.Description, &movement.CreatedAt); err != nil {
			_ = movementRows.Close()
			return nil, txError(err)
		}
		movements = append(movements, movement)
	}
	if err := movementRows.Err(); err != nil {
		_ = movementRows.Close()
		return nil, txError(err)
	}
	_ = movementRows.Close()

	expected := reconcile.Expected(session.OpeningAmount, cashSales, movements)
	difference, _ := reconcile.Discrepancy(expected, countedAmount)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE register_sessions
		SET status = 'closed', closed_at = $2, closing_amount = $3,
			expected_amount = $4, difference = $5, closing_notes = $6
		WHERE id = $1 AND status = 'open'
	`, session.ID, closedAt, countedAmount, expected, difference, notes)
	if err != nil {
		return nil, txError(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt
	session.ClosingAmount = &countedAmount
	session.ExpectedAmount = &expected
	session.Difference = &difference
	session.ClosingNotes = notes
	return &session, nil
}

// noOpenSessionError distinguishes "never opened" from "already closed" for
// the close error path.
func (s *Store) noOpenSessionError(ctx context.Context) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT true FROM register_sessions LIMIT 1`).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrRegisterNotOpen
	}
	if err != nil {
		return err
	}
	return store.ErrRegisterClosed
}

func (s *Store) InsertMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var sessionID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM register_sessions
		WHERE status = 'open'
		FOR SHARE
	`).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRegisterNotOpen
		}
		return nil, txError(err)
	}
	movement.SessionID = sessionID

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, movement.ID, movement.SessionID, movement.Type, movement.Amount, movement.Description, movement.CreatedAt)
	if err != nil {
		return nil, txError(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	created := movement
	return &created, nil
}

func (s *Store) ListMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, type, amount, description, created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 8)
	for rows.Next() {
		var movement domain.CashMovement
		if err := rows.Scan(&movement.ID, &movement.SessionID, &movement.Type, &movement.Amount, &movement.Description, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.CreatedAt = movement.CreatedAt.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	if len(order.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("hold")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_orders (id, name, lines, discount_type, discount_value, customer_name, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, order.ID, order.Name, lines, order.DiscountType, order.DiscountValue,
		nullIfEmpty(order.CustomerName), nullIfEmpty(order.Notes), order.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) ListHeldOrders(ctx context.Context) ([]domain.HeldOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, lines, discount_type, discount_value, customer_name, notes, created_at
		FROM held_orders
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.HeldOrder, 0, 16)
	for rows.Next() {
		order, err := scanHeldOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) PopHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM held_orders
		WHERE id = $1
		RETURNING id, name, lines, discount_type, discount_value, customer_name, notes, created_at
	`, id)
	order, err := scanHeldOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) DeleteHeldOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeldOrder(row rowScanner) (*domain.HeldOrder, error) {
	var order domain.HeldOrder
	var lines []byte
	var customerName, notes sql.NullString
	if err := row.Scan(&order.ID, &order.Name, &lines, &order.DiscountType, &order.DiscountValue,
		&customerName, &notes, &order.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &order.Lines); err != nil {
		return nil, err
	}
	order.CustomerName = customerName.String
	order.Notes = notes.String
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

func (s *Store) GetTaxRate(ctx context.Context) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT tax_rate_percent FROM settings WHERE id = 1
	`).Scan(&rate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return rate, nil
}

func (s *Store) SetTaxRate(ctx context.Context, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrInvalidAmount
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, tax_rate_percent, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET tax_rate_percent = EXCLUDED.tax_rate_percent, updated_at = now()
	`, rate)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

// txError maps serialization failures to ErrCommitConflict. Under
// serializable isolation Postgres can raise 40001 on any statement, not just
// at commit, so every in-transaction error passes through here.
func txError(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", store.ErrCommitConflict, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
