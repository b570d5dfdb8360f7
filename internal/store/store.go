// Package store defines the persistence contract for the booking
// settlement engine. Implementations live in store/memory and
// store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"agendapos/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses against current state,
	// e.g. insufficient stock, a terminal booking, or a second open session.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument is returned for requests that can never succeed
	// regardless of state.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Settlement is the full write set of one completed booking. Repositories
// apply it atomically: every invariant is re-checked inside the same
// transaction and either everything commits or nothing does.
type Settlement struct {
	Booking       domain.Booking
	Sale          domain.Sale
	StockDeltas   map[string]int
	StockMoves    []domain.StockMovement
	CashSessionID string
	CashMoves     []domain.CashMovement
	SettledAt     time.Time
}

// StockFilter narrows stock movement listings.
type StockFilter struct {
	BranchID  string
	ProductID string
}

type Repository interface {
	// Bookings
	CreateBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	ListBookings(ctx context.Context, branchID string, status domain.BookingStatus) ([]domain.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (domain.Booking, error)

	// SettleBooking commits the complete side effects of a completed
	// booking in one transactional unit.
	SettleBooking(ctx context.Context, st Settlement) (domain.Sale, error)

	// Products and stock
	CreateProduct(ctx context.Context, p domain.Product, s domain.Stock, initial *domain.StockMovement) error
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetStock(ctx context.Context, productID string) (domain.Stock, error)
	ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error)

	ApplyStockMovement(ctx context.Context, m domain.StockMovement) (domain.Stock, error)
	GetStockMovement(ctx context.Context, id string) (domain.StockMovement, error)
	// RemoveStockMovement deletes an unreferenced movement and reverses
	// its effect on current stock.
	RemoveStockMovement(ctx context.Context, id string) (domain.Stock, error)
	ListStockMovements(ctx context.Context, f StockFilter) ([]domain.StockMovement, error)

	// Cash sessions and movements
	OpenCashSession(ctx context.Context, s domain.CashSession) error
	GetCashSession(ctx context.Context, id string) (domain.CashSession, error)
	ActiveCashSession(ctx context.Context, branchID string) (domain.CashSession, error)
	CloseCashSession(ctx context.Context, id string, expectedClose *decimal.Decimal, note string, at time.Time) (domain.CashSession, error)

	AddCashMovement(ctx context.Context, m domain.CashMovement) error
	GetCashMovement(ctx context.Context, id string) (domain.CashMovement, error)
	RemoveCashMovement(ctx context.Context, id string) error
	ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)

	// Sales
	GetSale(ctx context.Context, id string) (domain.Sale, error)

	// Expenses
	CreateExpense(ctx context.Context, e domain.Expense, cm *domain.CashMovement) error

	// Audit
	AppendAuditLog(ctx context.Context, l domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error)

	// Auth credentials live in the same backend, so one repository handle
	// serves both the service layer and the auth manager.
	UserStore
}

// UserStore persists auth credentials.
type UserStore interface {
	GetUser(ctx context.Context, username string) (domain.UserAccount, error)
	CreateUser(ctx context.Context, u domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
