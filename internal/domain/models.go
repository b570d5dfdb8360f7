package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the booking lifecycle state. completed, cancelled and
// no_show are terminal: once reached, the booking is immutable.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled || s == BookingNoShow
}

type PaymentMethod string

const (
	PayCash     PaymentMethod = "cash"
	PayCard     PaymentMethod = "card"
	PayOnline   PaymentMethod = "online"
	PayTransfer PaymentMethod = "transfer"
	// PayMixed is a resolved summary only, never an accepted tender method.
	PayMixed PaymentMethod = "mixed"
)

// TenderMethod reports whether m is accepted in a payment breakdown.
func (m PaymentMethod) TenderMethod() bool {
	switch m {
	case PayCash, PayCard, PayOnline, PayTransfer:
		return true
	}
	return false
}

type StockMovementType string

const (
	StockPurchase   StockMovementType = "purchase"
	StockAdjustment StockMovementType = "adjustment"
	StockSale       StockMovementType = "sale"
)

func (t StockMovementType) Valid() bool {
	switch t {
	case StockPurchase, StockAdjustment, StockSale:
		return true
	}
	return false
}

type CashMovementType string

const (
	CashIncome     CashMovementType = "income"
	CashExpense    CashMovementType = "expense"
	CashAdjustment CashMovementType = "adjustment"
)

func (t CashMovementType) Valid() bool {
	switch t {
	case CashIncome, CashExpense, CashAdjustment:
		return true
	}
	return false
}

type SettleOutcome string

const (
	OutcomeCompleted SettleOutcome = "completed"
	OutcomeNoShow    SettleOutcome = "no_show"
)

type Booking struct {
	ID            string        `json:"id"`
	BranchID      string        `json:"branch_id"`
	CustomerID    string        `json:"customer_id"`
	ServiceID     string        `json:"service_id"`
	StaffID       string        `json:"staff_id,omitempty"`
	ResourceID    string        `json:"resource_id,omitempty"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	Status        BookingStatus `json:"status"`
	SaleID        string        `json:"sale_id,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Note          string        `json:"note,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Sale struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	BookingID     string          `json:"booking_id,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []SaleLine      `json:"lines"`
}

// SaleLine is one priced item within a sale. Service lines carry no
// product reference; product lines satisfy Total = UnitPrice * Quantity.
type SaleLine struct {
	ProductID   string          `json:"product_id,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Product struct {
	ID       string          `json:"id"`
	BranchID string          `json:"branch_id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Active   bool            `json:"active"`
}

// Stock is the 1:1 companion of a Product. CurrentStock is the authoritative
// on-hand quantity and is only ever mutated through stock movements.
type Stock struct {
	ProductID    string `json:"product_id"`
	MinStock     int    `json:"min_stock"`
	CurrentStock int    `json:"current_stock"`
}

type StockMovement struct {
	ID            string            `json:"id"`
	BranchID      string            `json:"branch_id"`
	ProductID     string            `json:"product_id"`
	Quantity      int               `json:"quantity"`
	Type          StockMovementType `json:"type"`
	TotalPrice    *decimal.Decimal  `json:"total_price,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Note          string            `json:"note,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Referenced reports whether the movement is tied to the record that caused
// it (sale, expense). Referenced movements are immutable.
func (m StockMovement) Referenced() bool {
	return m.ReferenceType != "" && m.ReferenceID != ""
}

type CashSession struct {
	ID            string           `json:"id"`
	BranchID      string           `json:"branch_id"`
	OpenedBy      string           `json:"opened_by,omitempty"`
	ExpectedOpen  decimal.Decimal  `json:"expected_open"`
	ExpectedClose *decimal.Decimal `json:"expected_close,omitempty"`
	OpenNote      string           `json:"open_note,omitempty"`
	CloseNote     string           `json:"close_note,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

func (s CashSession) Open() bool { return s.ClosedAt == nil }

type CashMovement struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Type      CashMovementType `json:"type"`
	Amount    decimal.Decimal  `json:"amount"`
	Reason    string           `json:"reason,omitempty"`
	SaleID    string           `json:"sale_id,omitempty"`
	ExpenseID string           `json:"expense_id,omitempty"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (m CashMovement) Referenced() bool {
	return m.SaleID != "" || m.ExpenseID != ""
}

// CashTotals is the derived state of a session, recomputed from its
// movements on every read. Balance = Incomes - Expenses + Adjustments.
type CashTotals struct {
	Incomes     decimal.Decimal `json:"incomes"`
	Expenses    decimal.Decimal `json:"expenses"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Balance     decimal.Decimal `json:"balance"`
}

type Expense struct {
	ID        string          `json:"id"`
	BranchID  string          `json:"branch_id"`
	Concept   string          `json:"concept"`
	Amount    decimal.Decimal `json:"amount"`
	PaidFrom  string          `json:"paid_from"` // "till" or "external"
	CreatedAt time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// --- request / response payloads ---

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type BookingCreateRequest struct {
	BranchID   string    `json:"branch_id"`
	CustomerID string    `json:"customer_id"`
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Note       string    `json:"note,omitempty"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type BookingListResponse struct {
	Bookings []Booking `json:"bookings"`
}

// ProductLineInput is one purchased product within a settlement request.
// Total must equal UnitPrice * Quantity; the engine refuses to recompute it.
type ProductLineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type PaymentInput struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type SettleRequest struct {
	BookingID     string             `json:"booking_id"`
	Outcome       SettleOutcome      `json:"outcome"`
	ServiceAmount decimal.Decimal    `json:"service_amount"`
	ProductLines  []ProductLineInput `json:"product_lines,omitempty"`
	Payments      []PaymentInput     `json:"payments,omitempty"`
	Note          string             `json:"note,omitempty"`
}

type SettleResponse struct {
	BookingID string        `json:"booking_id"`
	Status    BookingStatus `json:"status"`
	Sale      *Sale         `json:"sale,omitempty"`
}

type ProductCreateRequest struct {
	BranchID     string          `json:"branch_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	MinStock     int             `json:"min_stock"`
	InitialStock int             `json:"initial_stock"`
}

type ProductWithStock struct {
	Product Product `json:"product"`
	Stock   Stock   `json:"stock"`
}

type ProductListResponse struct {
	Products []ProductWithStock `json:"products"`
}

type StockMovementRequest struct {
	ProductID     string            `json:"product_id"`
	Quantity      int               `json:"quantity"`
	Type          StockMovementType `json:"type"`
	TotalPrice    *decimal.Decimal  `json:"total_price,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Note          string            `json:"note,omitempty"`
}

type StockMovementResponse struct {
	Movement StockMovement `json:"movement"`
	Stock    Stock         `json:"stock"`
}

type StockMovementListResponse struct {
	Movements []StockMovement `json:"movements"`
}

type SessionOpenRequest struct {
	BranchID     string          `json:"branch_id"`
	ExpectedOpen decimal.Decimal `json:"expected_open"`
	Note         string          `json:"note,omitempty"`
}

type SessionCloseRequest struct {
	SessionID     string           `json:"session_id"`
	ExpectedClose *decimal.Decimal `json:"expected_close,omitempty"`
	Note          string           `json:"note,omitempty"`
}

type SessionResponse struct {
	Session CashSession `json:"session"`
}

type SessionTotalsResponse struct {
	Session CashSession `json:"session"`
	Totals  CashTotals  `json:"totals"`
}

type CashMovementRequest struct {
	SessionID string           `json:"session_id"`
	Type      CashMovementType `json:"type"`
	Amount    decimal.Decimal  `json:"amount"`
	Reason    string           `json:"reason,omitempty"`
	SaleID    string           `json:"sale_id,omitempty"`
	ExpenseID string           `json:"expense_id,omitempty"`
	Note      string           `json:"note,omitempty"`
}

type CashMovementResponse struct {
	Movement CashMovement `json:"movement"`
}

type CashMovementListResponse struct {
	Movements []CashMovement `json:"movements"`
}

type ExpenseCreateRequest struct {
	BranchID string          `json:"branch_id"`
	Concept  string          `json:"concept"`
	Amount   decimal.Decimal `json:"amount"`
	// FromTill records the expense against the branch's open cash session.
	FromTill bool `json:"from_till"`
}

type ExpenseResponse struct {
	Expense      Expense       `json:"expense"`
	CashMovement *CashMovement `json:"cash_movement,omitempty"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// ReferenceSale / ReferenceExpense tag the origin of a stock movement.
	ReferenceSale    = "sale"
	ReferenceExpense = "expense"
)
