package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orelvisrguez/SmartKiosco-sub000/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRegisterAlreadyOpen = errors.New("register session already open")
	ErrRegisterNotOpen     = errors.New("no open register session")
	ErrRegisterClosed      = errors.New("register session already closed")
	ErrCommitConflict      = errors.New("commit conflict")
)

// Repository is the single persistence boundary of the core. The postgres
// implementation backs real deployments; the memory implementation backs
// tests and dev mode. CreateSale and CloseOpenSession are the two operations
// with all-or-nothing semantics: a partial effect must never be observable.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) error

	// CreateSale persists the sale header and its frozen items and decrements
	// stock for every line, atomically. It re-validates every quantity against
	// current stock and assigns the open register session (if any) and a
	// receipt number before committing. On a stock failure the returned error
	// wraps ErrInsufficientStock and names the offending product.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	SumSalesBySession(ctx context.Context, sessionID string) (domain.SessionSales, error)

	CreateSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error)
	GetOpenSession(ctx context.Context) (*domain.RegisterSession, error)
	// CloseOpenSession computes expected cash and discrepancy from the
	// session's attributed sales and movements and marks the session closed,
	// in one atomic step. Returns ErrRegisterClosed when the latest session is
	// already closed, ErrRegisterNotOpen when no session exists at all.
	CloseOpenSession(ctx context.Context, countedAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.RegisterSession, error)
	InsertMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	ListMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)

	CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context) ([]domain.HeldOrder, error)
	// PopHeldOrder removes and returns the held order. Pop and Delete are the
	// only removal paths; an entry is never dropped any other way.
	PopHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error)
	DeleteHeldOrder(ctx context.Context, id string) error

	GetTaxRate(ctx context.Context) (decimal.Decimal, error)
	SetTaxRate(ctx context.Context, rate decimal.Decimal) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
