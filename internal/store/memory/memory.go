package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"agendapos/backend/internal/domain"
	"agendapos/backend/internal/store"
	"agendapos/backend/internal/xid"
)

// Store is the in-memory repository used for dev/demo mode and tests.
// A single mutex guards every map, which is what makes SettleBooking
// atomic here.
type Store struct {
	mu              sync.RWMutex
	bookingsByID    map[string]domain.Booking
	salesByID       map[string]domain.Sale
	productsByID    map[string]domain.Product
	stockByProduct  map[string]domain.Stock
	stockMovesByID  map[string]domain.StockMovement
	sessionsByID    map[string]domain.CashSession
	openSessionBy   map[string]string
	cashMovesByID   map[string]domain.CashMovement
	expensesByID    map[string]domain.Expense
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
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

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-shampoo", BranchID: "branch-main", SKU: "RET-SHAMPOO", Name: "Shampoo 250ml", Price: dec("5.00"), Active: true},
		{ID: "prd-wax", BranchID: "branch-main", SKU: "RET-WAX", Name: "Styling Wax", Price: dec("12.50"), Active: true},
		{ID: "prd-oil", BranchID: "branch-main", SKU: "RET-OIL", Name: "Beard Oil", Price: dec("18.00"), Active: true},
		{ID: "prd-towel", BranchID: "branch-main", SKU: "RET-TOWEL", Name: "Branded Towel", Price: dec("9.90"), Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	stockMap := make(map[string]domain.Stock, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		stockMap[p.ID] = domain.Stock{ProductID: p.ID, MinStock: 3, CurrentStock: 25}
	}

	bookings := map[string]domain.Booking{
		"bkg-seed-1": {
			ID:         "bkg-seed-1",
			BranchID:   "branch-main",
			CustomerID: "cust-seed-1",
			ServiceID:  "svc-haircut",
			StaffID:    "stf-seed-1",
			StartsAt:   now.Add(1 * time.Hour),
			EndsAt:     now.Add(90 * time.Minute),
			Status:     domain.BookingConfirmed,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		"bkg-seed-2": {
			ID:         "bkg-seed-2",
			BranchID:   "branch-main",
			CustomerID: "cust-seed-2",
			ServiceID:  "svc-color",
			StartsAt:   now.Add(3 * time.Hour),
			EndsAt:     now.Add(4 * time.Hour),
			Status:     domain.BookingPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}

	return &Store{
		bookingsByID:    bookings,
		salesByID:       make(map[string]domain.Sale),
		productsByID:    productMap,
		stockByProduct:  stockMap,
		stockMovesByID:  make(map[string]domain.StockMovement),
		sessionsByID:    make(map[string]domain.CashSession),
		openSessionBy:   make(map[string]string),
		cashMovesByID:   make(map[string]domain.CashMovement),
		expensesByID:    make(map[string]domain.Expense),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// --- bookings ---

func (s *Store) CreateBooking(_ context.Context, b domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookingsByID[b.ID]; exists {
		return store.ErrConflict
	}
	s.bookingsByID[b.ID] = b
	return nil
}

func (s *Store) GetBooking(_ context.Context, id string) (domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.bookingsByID[id]
	if !exists {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBookings(_ context.Context, branchID string, status domain.BookingStatus) ([]domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Booking, 0, 16)
	for _, b := range s.bookingsByID {
		if b.BranchID != branchID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Booking) int {
		if a.StartsAt.Equal(b.StartsAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.StartsAt.Before(b.StartsAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateBookingStatus(_ context.Context, id string, from, to domain.BookingStatus, at time.Time) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.bookingsByID[id]
	if !exists {
		return domain.Booking{}, store.ErrNotFound
	}
	if b.Status != from {
		return domain.Booking{}, fmt.Errorf("%w: booking %s is %s", store.ErrConflict, id, b.Status)
	}
	b.Status = to
	b.UpdatedAt = at
	s.bookingsByID[id] = b
	return b, nil
}

// --- settlement ---

// SettleBooking applies the complete side effects of one completed booking
// under a single lock. Every invariant is re-checked against current state
// so a concurrent settlement or stock change cannot slip through.
func (s *Store) SettleBooking(_ context.Context, st store.Settlement) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, exists := s.bookingsByID[st.Booking.ID]
	if !exists {
		return domain.Sale{}, store.ErrNotFound
	}
	if booking.Status.Terminal() {
		return domain.Sale{}, fmt.Errorf("%w: booking %s is %s", store.ErrConflict, booking.ID, booking.Status)
	}

	// A session is only part of the write set when cash was tendered.
	if st.CashSessionID != "" {
		session, exists := s.sessionsByID[st.CashSessionID]
		if !exists || !session.Open() {
			return domain.Sale{}, fmt.Errorf("%w: no open session", store.ErrConflict)
		}
	}

	for productID, delta := range st.StockDeltas {
		stock, exists := s.stockByProduct[productID]
		if !exists {
			return domain.Sale{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidArgument, productID)
		}
		if stock.CurrentStock+delta < 0 {
			return domain.Sale{}, fmt.Errorf("%w: insufficient stock for product %s", store.ErrConflict, productID)
		}
	}

	// All checks passed: apply the write set.
	for productID, delta := range st.StockDeltas {
		stock := s.stockByProduct[productID]
		stock.CurrentStock += delta
		s.stockByProduct[productID] = stock
	}
	for _, m := range st.StockMoves {
		s.stockMovesByID[m.ID] = m
	}
	for _, m := range st.CashMoves {
		s.cashMovesByID[m.ID] = m
	}
	s.salesByID[st.Sale.ID] = st.Sale

	booking.Status = domain.BookingCompleted
	booking.SaleID = st.Sale.ID
	booking.PaymentMethod = st.Sale.PaymentMethod
	booking.UpdatedAt = st.SettledAt
	s.bookingsByID[booking.ID] = booking

	return st.Sale, nil
}

// --- products and stock ---

func (s *Store) CreateProduct(_ context.Context, p domain.Product, stock domain.Stock, initial *domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.productsByID {
		if existing.BranchID == p.BranchID && existing.SKU == p.SKU {
			return fmt.Errorf("%w: sku %s already exists", store.ErrConflict, p.SKU)
		}
	}
	s.productsByID[p.ID] = p
	s.stockByProduct[p.ID] = stock
	if initial != nil {
		s.stockMovesByID[initial.ID] = *initial
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.productsByID[id]
	if !exists {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, exists := s.stockByProduct[productID]
	if !exists {
		return domain.Stock{}, store.ErrNotFound
	}
	return stock, nil
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.ProductWithStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductWithStock, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.BranchID != branchID {
			continue
		}
		result = append(result, domain.ProductWithStock{Product: p, Stock: s.stockByProduct[p.ID]})
	}
	slices.SortFunc(result, func(a, b domain.ProductWithStock) int {
		return strings.Compare(a.Product.Name, b.Product.Name)
	})
	return result, nil
}

func (s *Store) ApplyStockMovement(_ context.Context, m domain.StockMovement) (domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[m.ProductID]; !exists {
		return domain.Stock{}, store.ErrNotFound
	}
	stock := s.stockByProduct[m.ProductID]
	if stock.CurrentStock+m.Quantity < 0 {
		return domain.Stock{}, fmt.Errorf("%w: insufficient stock for product %s", store.ErrConflict, m.ProductID)
	}

	if m.ID == "" {
		m.ID = xid.New(xid.StockMovement)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	stock.CurrentStock += m.Quantity
	s.stockByProduct[m.ProductID] = stock
	s.stockMovesByID[m.ID] = m
	return stock, nil
}

func (s *Store) GetStockMovement(_ context.Context, id string) (domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.stockMovesByID[id]
	if !exists {
		return domain.StockMovement{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) RemoveStockMovement(_ context.Context, id string) (domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.stockMovesByID[id]
	if !exists {
		return domain.Stock{}, store.ErrNotFound
	}
	if m.Referenced() {
		return domain.Stock{}, fmt.Errorf("%w: movement %s is referenced by a %s", store.ErrInvalidArgument, id, m.ReferenceType)
	}
	stock := s.stockByProduct[m.ProductID]
	if stock.CurrentStock-m.Quantity < 0 {
		return domain.Stock{}, fmt.Errorf("%w: reversing movement %s would make stock negative", store.ErrConflict, id)
	}
	stock.CurrentStock -= m.Quantity
	s.stockByProduct[m.ProductID] = stock
	delete(s.stockMovesByID, id)
	return stock, nil
}

func (s *Store) ListStockMovements(_ context.Context, f store.StockFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 16)
	for _, m := range s.stockMovesByID {
		if f.BranchID != "" && m.BranchID != f.BranchID {
			continue
		}
		if f.ProductID != "" && m.ProductID != f.ProductID {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// --- cash sessions ---

func (s *Store) OpenCashSession(_ context.Context, session domain.CashSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if openID, exists := s.openSessionBy[session.BranchID]; exists {
		return fmt.Errorf("%w: session %s is already open for branch %s", store.ErrConflict, openID, session.BranchID)
	}
	s.sessionsByID[session.ID] = session
	s.openSessionBy[session.BranchID] = session.ID
	return nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return domain.CashSession{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) ActiveCashSession(_ context.Context, branchID string) (domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.openSessionBy[branchID]
	if !exists {
		return domain.CashSession{}, store.ErrNotFound
	}
	return s.sessionsByID[id], nil
}

func (s *Store) CloseCashSession(_ context.Context, id string, expectedClose *decimal.Decimal, note string, at time.Time) (domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return domain.CashSession{}, store.ErrNotFound
	}
	if !session.Open() {
		return domain.CashSession{}, fmt.Errorf("%w: session %s is already closed", store.ErrConflict, id)
	}
	session.ExpectedClose = expectedClose
	session.CloseNote = note
	closedAt := at
	session.ClosedAt = &closedAt
	s.sessionsByID[id] = session
	delete(s.openSessionBy, session.BranchID)
	return session, nil
}

func (s *Store) AddCashMovement(_ context.Context, m domain.CashMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[m.SessionID]
	if !exists {
		return store.ErrNotFound
	}
	if !session.Open() {
		return fmt.Errorf("%w: session %s is closed", store.ErrConflict, m.SessionID)
	}
	s.cashMovesByID[m.ID] = m
	return nil
}

func (s *Store) GetCashMovement(_ context.Context, id string) (domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.cashMovesByID[id]
	if !exists {
		return domain.CashMovement{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) RemoveCashMovement(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.cashMovesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if m.Referenced() {
		return fmt.Errorf("%w: movement %s is tied to a sale or expense", store.ErrInvalidArgument, id)
	}
	session := s.sessionsByID[m.SessionID]
	if !session.Open() {
		return fmt.Errorf("%w: session %s is closed", store.ErrInvalidArgument, m.SessionID)
	}
	delete(s.cashMovesByID, id)
	return nil
}

func (s *Store) ListCashMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashMovement, 0, 16)
	for _, m := range s.cashMovesByID {
		if m.SessionID != sessionID {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.CashMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// --- sales ---

func (s *Store) GetSale(_ context.Context, id string) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return domain.Sale{}, store.ErrNotFound
	}
	return sale, nil
}

// --- expenses ---

func (s *Store) CreateExpense(_ context.Context, e domain.Expense, cm *domain.CashMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cm != nil {
		session, exists := s.sessionsByID[cm.SessionID]
		if !exists {
			return store.ErrNotFound
		}
		if !session.Open() {
			return fmt.Errorf("%w: session %s is closed", store.ErrConflict, cm.SessionID)
		}
	}
	s.expensesByID[e.ID] = e
	if cm != nil {
		s.cashMovesByID[cm.ID] = *cm
	}
	return nil
}

// --- audit ---

func (s *Store) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New(xid.Audit)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// --- users ---

func (s *Store) GetUser(_ context.Context, username string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.usersByUsername[username]
	if !exists {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, u domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[u.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUsername[u.Username] = u
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}
