package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"agendapos/backend/internal/cache"
	"agendapos/backend/internal/domain"
	"agendapos/backend/internal/sale"
	"agendapos/backend/internal/store"
	"agendapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const catalogTTL = 30 * time.Second

type Service struct {
	repo            store.Repository
	catalog         cache.CatalogCache
	defaultBranchID string
}

func New(repo store.Repository, catalog cache.CatalogCache, defaultBranchID string) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "branch-main"
	}
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}

	return &Service{
		repo:            repo,
		catalog:         catalog,
		defaultBranchID: defaultBranchID,
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// --- bookings ---

func (s *Service) CreateBooking(ctx context.Context, req domain.BookingCreateRequest) (domain.BookingResponse, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)

	if req.CustomerID == "" || req.ServiceID == "" {
		return domain.BookingResponse{}, invalidf("customer and service are required")
	}
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		return domain.BookingResponse{}, invalidf("booking window must end after it starts")
	}

	now := time.Now().UTC()
	booking := domain.Booking{
		ID:         xid.New(xid.Booking),
		BranchID:   req.BranchID,
		CustomerID: req.CustomerID,
		ServiceID:  req.ServiceID,
		StaffID:    req.StaffID,
		ResourceID: req.ResourceID,
		StartsAt:   req.StartsAt.UTC(),
		EndsAt:     req.EndsAt.UTC(),
		Status:     domain.BookingPending,
		Note:       req.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return domain.BookingResponse{}, err
	}

	s.logAudit(ctx, booking.BranchID, "booking_create", "booking", booking.ID, fmt.Sprintf("service=%s,starts=%s", booking.ServiceID, booking.StartsAt.Format(time.RFC3339)))
	return domain.BookingResponse{Booking: booking}, nil
}

func (s *Service) ConfirmBooking(ctx context.Context, bookingID string) (domain.BookingResponse, error) {
	booking, err := s.repo.UpdateBookingStatus(ctx, bookingID, domain.BookingPending, domain.BookingConfirmed, time.Now().UTC())
	if err != nil {
		return domain.BookingResponse{}, err
	}

	s.logAudit(ctx, booking.BranchID, "booking_confirm", "booking", booking.ID, "")
	return domain.BookingResponse{Booking: booking}, nil
}

func (s *Service) CancelBooking(ctx context.Context, bookingID string) (domain.BookingResponse, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.BookingResponse{}, err
	}
	if booking.Status.Terminal() {
		return domain.BookingResponse{}, fmt.Errorf("%w: booking %s is %s", store.ErrConflict, booking.ID, booking.Status)
	}

	booking, err = s.repo.UpdateBookingStatus(ctx, bookingID, booking.Status, domain.BookingCancelled, time.Now().UTC())
	if err != nil {
		return domain.BookingResponse{}, err
	}

	s.logAudit(ctx, booking.BranchID, "booking_cancel", "booking", booking.ID, "")
	return domain.BookingResponse{Booking: booking}, nil
}

func (s *Service) GetBooking(ctx context.Context, bookingID string) (domain.BookingResponse, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.BookingResponse{}, err
	}
	return domain.BookingResponse{Booking: booking}, nil
}

func (s *Service) ListBookings(ctx context.Context, branchID string, status domain.BookingStatus) (domain.BookingListResponse, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if status != "" {
		switch status {
		case domain.BookingPending, domain.BookingConfirmed, domain.BookingCompleted, domain.BookingCancelled, domain.BookingNoShow:
		default:
			return domain.BookingListResponse{}, invalidf("unknown booking status %q", status)
		}
	}

	bookings, err := s.repo.ListBookings(ctx, branchID, status)
	if err != nil {
		return domain.BookingListResponse{}, err
	}
	return domain.BookingListResponse{Bookings: bookings}, nil
}

// --- settlement ---

// Settle moves a booking to a terminal state. The no_show path touches the
// booking alone. The completed path builds the sale, decrements stock and
// records the cash tender against the branch's open session, all in one
// transactional unit against the repository.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResponse, error) {
	booking, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return domain.SettleResponse{}, err
	}
	if booking.Status.Terminal() {
		return domain.SettleResponse{}, fmt.Errorf("%w: booking %s is %s", store.ErrConflict, booking.ID, booking.Status)
	}

	now := time.Now().UTC()

	switch req.Outcome {
	case domain.OutcomeNoShow:
		updated, err := s.repo.UpdateBookingStatus(ctx, booking.ID, booking.Status, domain.BookingNoShow, now)
		if err != nil {
			return domain.SettleResponse{}, err
		}
		s.logAudit(ctx, booking.BranchID, "booking_no_show", "booking", booking.ID, req.Note)
		return domain.SettleResponse{BookingID: updated.ID, Status: updated.Status}, nil
	case domain.OutcomeCompleted:
		// handled below
	default:
		return domain.SettleResponse{}, invalidf("unknown settle outcome %q", req.Outcome)
	}

	resolved := make([]sale.ResolvedProduct, 0, len(req.ProductLines))
	for _, line := range req.ProductLines {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SettleResponse{}, invalidf("unknown product %s", line.ProductID)
			}
			return domain.SettleResponse{}, err
		}
		if product.BranchID != booking.BranchID {
			return domain.SettleResponse{}, invalidf("product %s does not belong to branch %s", line.ProductID, booking.BranchID)
		}
		resolved = append(resolved, sale.ResolvedProduct{Line: line, Product: product})
	}

	built, err := sale.Build(booking, serviceLabel(booking), req.ServiceAmount, resolved, req.Payments)
	if err != nil {
		if errors.Is(err, sale.ErrInvalid) {
			return domain.SettleResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
		}
		return domain.SettleResponse{}, err
	}
	built.ID = xid.New(xid.Sale)
	built.CreatedAt = now

	cashTender := sale.CashPortion(req.Payments)
	sessionID := ""
	var cashMoves []domain.CashMovement
	if cashTender.IsPositive() {
		session, err := s.repo.ActiveCashSession(ctx, booking.BranchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SettleResponse{}, fmt.Errorf("%w: no open session", store.ErrConflict)
			}
			return domain.SettleResponse{}, err
		}
		sessionID = session.ID
		cashMoves = append(cashMoves, domain.CashMovement{
			ID:        xid.New(xid.CashMovement),
			SessionID: session.ID,
			Type:      domain.CashIncome,
			Amount:    cashTender,
			Reason:    "booking settlement",
			SaleID:    built.ID,
			Note:      req.Note,
			CreatedAt: now,
		})
	}

	deltas := make(map[string]int, len(resolved))
	stockMoves := make([]domain.StockMovement, 0, len(resolved))
	for _, rp := range resolved {
		deltas[rp.Product.ID] -= rp.Line.Quantity
		lineTotal := rp.Line.Total
		stockMoves = append(stockMoves, domain.StockMovement{
			ID:            xid.New(xid.StockMovement),
			BranchID:      booking.BranchID,
			ProductID:     rp.Product.ID,
			Quantity:      -rp.Line.Quantity,
			Type:          domain.StockSale,
			TotalPrice:    &lineTotal,
			ReferenceType: domain.ReferenceSale,
			ReferenceID:   built.ID,
			CreatedAt:     now,
		})
	}

	persisted, err := s.repo.SettleBooking(ctx, store.Settlement{
		Booking:       booking,
		Sale:          built,
		StockDeltas:   deltas,
		StockMoves:    stockMoves,
		CashSessionID: sessionID,
		CashMoves:     cashMoves,
		SettledAt:     now,
	})
	if err != nil {
		return domain.SettleResponse{}, err
	}
	if len(stockMoves) > 0 {
		s.invalidateCatalog(ctx, booking.BranchID)
	}

	s.logAudit(
		ctx,
		booking.BranchID,
		"booking_settle",
		"booking",
		booking.ID,
		fmt.Sprintf("sale=%s,total=%s,payment=%s,lines=%d", persisted.ID, persisted.Total, persisted.PaymentMethod, len(persisted.Lines)),
	)

	return domain.SettleResponse{BookingID: booking.ID, Status: domain.BookingCompleted, Sale: &persisted}, nil
}

// serviceLabel names the service line on the sale. The service catalog is
// owned by a collaborator, so the booking's service reference is the best
// label available here.
func serviceLabel(b domain.Booking) string {
	if b.ServiceID != "" {
		return b.ServiceID
	}
	return "service"
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

// --- products ---

func (s *Service) ListProducts(ctx context.Context, branchID string) (domain.ProductListResponse, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	key := catalogKey(branchID)
	if cached, ok, err := s.catalog.Get(ctx, key); err == nil && ok {
		return domain.ProductListResponse{Products: cached}, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed branch=%s: %v", branchID, err)
	}

	products, err := s.repo.ListProducts(ctx, branchID)
	if err != nil {
		return domain.ProductListResponse{}, err
	}
	if err := s.catalog.Set(ctx, key, products, catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed branch=%s: %v", branchID, err)
	}
	return domain.ProductListResponse{Products: products}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductWithStock, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ProductWithStock{}, fmt.Errorf("admin role required")
	}

	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)

	if req.SKU == "" || req.Name == "" {
		return domain.ProductWithStock{}, invalidf("sku and name are required")
	}
	if req.Price.IsNegative() {
		return domain.ProductWithStock{}, invalidf("price must not be negative")
	}
	if req.MinStock < 0 || req.InitialStock < 0 {
		return domain.ProductWithStock{}, invalidf("stock levels must not be negative")
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:       xid.New(xid.Product),
		BranchID: req.BranchID,
		SKU:      req.SKU,
		Name:     req.Name,
		Price:    req.Price,
		Active:   true,
	}
	stock := domain.Stock{
		ProductID:    product.ID,
		MinStock:     req.MinStock,
		CurrentStock: req.InitialStock,
	}

	var initial *domain.StockMovement
	if req.InitialStock > 0 {
		initial = &domain.StockMovement{
			ID:        xid.New(xid.StockMovement),
			BranchID:  product.BranchID,
			ProductID: product.ID,
			Quantity:  req.InitialStock,
			Type:      domain.StockPurchase,
			Note:      "initial stock",
			CreatedAt: now,
		}
	}

	if err := s.repo.CreateProduct(ctx, product, stock, initial); err != nil {
		return domain.ProductWithStock{}, err
	}
	s.invalidateCatalog(ctx, product.BranchID)

	s.logAudit(ctx, product.BranchID, "product_create", "product", product.ID, fmt.Sprintf("sku=%s,price=%s,stock=%d", product.SKU, product.Price, req.InitialStock))
	return domain.ProductWithStock{Product: product, Stock: stock}, nil
}

func catalogKey(branchID string) string {
	return "catalog:" + branchID
}

func (s *Service) invalidateCatalog(ctx context.Context, branchID string) {
	if err := s.catalog.Delete(ctx, catalogKey(branchID)); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed branch=%s: %v", branchID, err)
	}
}

// --- inventory ledger ---

func (s *Service) ApplyStockMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovementResponse, error) {
	if req.Quantity == 0 {
		return domain.StockMovementResponse{}, invalidf("quantity delta must not be zero")
	}
	if !req.Type.Valid() {
		return domain.StockMovementResponse{}, invalidf("unknown movement type %q", req.Type)
	}
	if (req.ReferenceType == "") != (req.ReferenceID == "") {
		return domain.StockMovementResponse{}, invalidf("reference type and id must be set together")
	}
	if req.TotalPrice != nil && req.TotalPrice.IsNegative() {
		return domain.StockMovementResponse{}, invalidf("total price must not be negative")
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}

	movement := domain.StockMovement{
		ID:            xid.New(xid.StockMovement),
		BranchID:      product.BranchID,
		ProductID:     product.ID,
		Quantity:      req.Quantity,
		Type:          req.Type,
		TotalPrice:    req.TotalPrice,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Note:          req.Note,
		CreatedAt:     time.Now().UTC(),
	}

	stock, err := s.repo.ApplyStockMovement(ctx, movement)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	s.invalidateCatalog(ctx, product.BranchID)

	s.logAudit(ctx, product.BranchID, "stock_movement_apply", "stock_movement", movement.ID, fmt.Sprintf("product=%s,qty=%d,type=%s", product.ID, movement.Quantity, movement.Type))
	return domain.StockMovementResponse{Movement: movement, Stock: stock}, nil
}

func (s *Service) RemoveStockMovement(ctx context.Context, movementID string) (domain.StockMovementResponse, error) {
	movement, err := s.repo.GetStockMovement(ctx, movementID)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	if movement.Referenced() {
		return domain.StockMovementResponse{}, invalidf("movement %s is referenced by a %s", movementID, movement.ReferenceType)
	}

	stock, err := s.repo.RemoveStockMovement(ctx, movementID)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	s.invalidateCatalog(ctx, movement.BranchID)

	s.logAudit(ctx, movement.BranchID, "stock_movement_remove", "stock_movement", movementID, fmt.Sprintf("product=%s,qty=%d", movement.ProductID, movement.Quantity))
	return domain.StockMovementResponse{Movement: movement, Stock: stock}, nil
}

func (s *Service) ListStockMovements(ctx context.Context, branchID string, productID string) (domain.StockMovementListResponse, error) {
	if branchID == "" && productID == "" {
		branchID = s.defaultBranchID
	}
	movements, err := s.repo.ListStockMovements(ctx, store.StockFilter{BranchID: branchID, ProductID: productID})
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	return domain.StockMovementListResponse{Movements: movements}, nil
}

// --- cash ledger ---

func (s *Service) OpenCashSession(ctx context.Context, req domain.SessionOpenRequest) (domain.SessionResponse, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.ExpectedOpen.IsNegative() {
		return domain.SessionResponse{}, invalidf("expected opening float must not be negative")
	}

	actor, _ := ActorFromContext(ctx)
	session := domain.CashSession{
		ID:           xid.New(xid.Session),
		BranchID:     req.BranchID,
		OpenedBy:     actor.Username,
		ExpectedOpen: req.ExpectedOpen,
		OpenNote:     req.Note,
		OpenedAt:     time.Now().UTC(),
	}
	if err := s.repo.OpenCashSession(ctx, session); err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, session.BranchID, "session_open", "cash_session", session.ID, fmt.Sprintf("expected_open=%s", session.ExpectedOpen))
	return domain.SessionResponse{Session: session}, nil
}

// CloseCashSession stamps the close without reconciling expectedClose
// against computed totals. Totals stay available through SessionTotals for
// the caller to compare.
func (s *Service) CloseCashSession(ctx context.Context, req domain.SessionCloseRequest) (domain.SessionResponse, error) {
	if req.SessionID == "" {
		return domain.SessionResponse{}, invalidf("session id is required")
	}
	if req.ExpectedClose != nil && req.ExpectedClose.IsNegative() {
		return domain.SessionResponse{}, invalidf("expected closing float must not be negative")
	}

	session, err := s.repo.CloseCashSession(ctx, req.SessionID, req.ExpectedClose, req.Note, time.Now().UTC())
	if err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, session.BranchID, "session_close", "cash_session", session.ID, "")
	return domain.SessionResponse{Session: session}, nil
}

func (s *Service) ActiveCashSession(ctx context.Context, branchID string) (domain.SessionResponse, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	session, err := s.repo.ActiveCashSession(ctx, branchID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: session}, nil
}

func (s *Service) RecordCashMovement(ctx context.Context, req domain.CashMovementRequest) (domain.CashMovementResponse, error) {
	if req.SessionID == "" {
		return domain.CashMovementResponse{}, invalidf("session id is required")
	}
	if !req.Type.Valid() {
		return domain.CashMovementResponse{}, invalidf("unknown movement type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovementResponse{}, invalidf("amount must be positive")
	}
	if req.SaleID != "" && req.ExpenseID != "" {
		return domain.CashMovementResponse{}, invalidf("sale and expense references are mutually exclusive")
	}

	movement := domain.CashMovement{
		ID:        xid.New(xid.CashMovement),
		SessionID: req.SessionID,
		Type:      req.Type,
		Amount:    req.Amount,
		Reason:    req.Reason,
		SaleID:    req.SaleID,
		ExpenseID: req.ExpenseID,
		Note:      req.Note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AddCashMovement(ctx, movement); err != nil {
		return domain.CashMovementResponse{}, err
	}

	session, err := s.repo.GetCashSession(ctx, req.SessionID)
	if err == nil {
		s.logAudit(ctx, session.BranchID, "cash_movement_record", "cash_movement", movement.ID, fmt.Sprintf("type=%s,amount=%s", movement.Type, movement.Amount))
	}
	return domain.CashMovementResponse{Movement: movement}, nil
}

func (s *Service) RemoveCashMovement(ctx context.Context, movementID string) error {
	movement, err := s.repo.GetCashMovement(ctx, movementID)
	if err != nil {
		return err
	}
	if movement.Referenced() {
		return invalidf("movement %s is tied to a sale or expense", movementID)
	}

	if err := s.repo.RemoveCashMovement(ctx, movementID); err != nil {
		return err
	}

	if session, err := s.repo.GetCashSession(ctx, movement.SessionID); err == nil {
		s.logAudit(ctx, session.BranchID, "cash_movement_remove", "cash_movement", movementID, fmt.Sprintf("type=%s,amount=%s", movement.Type, movement.Amount))
	}
	return nil
}

func (s *Service) ListCashMovements(ctx context.Context, sessionID string) (domain.CashMovementListResponse, error) {
	if sessionID == "" {
		return domain.CashMovementListResponse{}, invalidf("session id is required")
	}
	if _, err := s.repo.GetCashSession(ctx, sessionID); err != nil {
		return domain.CashMovementListResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, sessionID)
	if err != nil {
		return domain.CashMovementListResponse{}, err
	}
	return domain.CashMovementListResponse{Movements: movements}, nil
}

// SessionTotals aggregates a session's movements on read.
// balance = incomes - expenses + adjustments.
func (s *Service) SessionTotals(ctx context.Context, sessionID string) (domain.SessionTotalsResponse, error) {
	session, err := s.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return domain.SessionTotalsResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, sessionID)
	if err != nil {
		return domain.SessionTotalsResponse{}, err
	}
	return domain.SessionTotalsResponse{Session: session, Totals: computeTotals(movements)}, nil
}

func computeTotals(movements []domain.CashMovement) domain.CashTotals {
	totals := domain.CashTotals{
		Incomes:     decimal.Zero,
		Expenses:    decimal.Zero,
		Adjustments: decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case domain.CashIncome:
			totals.Incomes = totals.Incomes.Add(m.Amount)
		case domain.CashExpense:
			totals.Expenses = totals.Expenses.Add(m.Amount)
		case domain.CashAdjustment:
			totals.Adjustments = totals.Adjustments.Add(m.Amount)
		}
	}
	totals.Balance = totals.Incomes.Sub(totals.Expenses).Add(totals.Adjustments)
	return totals
}

// --- expenses ---

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.ExpenseResponse, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.Concept = strings.TrimSpace(req.Concept)
	if req.Concept == "" {
		return domain.ExpenseResponse{}, invalidf("concept is required")
	}
	if !req.Amount.IsPositive() {
		return domain.ExpenseResponse{}, invalidf("amount must be positive")
	}

	now := time.Now().UTC()
	expense := domain.Expense{
		ID:        xid.New(xid.Expense),
		BranchID:  req.BranchID,
		Concept:   req.Concept,
		Amount:    req.Amount,
		PaidFrom:  "external",
		CreatedAt: now,
	}

	var movement *domain.CashMovement
	if req.FromTill {
		session, err := s.repo.ActiveCashSession(ctx, req.BranchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ExpenseResponse{}, fmt.Errorf("%w: no open session", store.ErrConflict)
			}
			return domain.ExpenseResponse{}, err
		}
		expense.PaidFrom = "till"
		movement = &domain.CashMovement{
			ID:        xid.New(xid.CashMovement),
			SessionID: session.ID,
			Type:      domain.CashExpense,
			Amount:    req.Amount,
			Reason:    req.Concept,
			ExpenseID: expense.ID,
			CreatedAt: now,
		}
	}

	if err := s.repo.CreateExpense(ctx, expense, movement); err != nil {
		return domain.ExpenseResponse{}, err
	}

	s.logAudit(ctx, expense.BranchID, "expense_create", "expense", expense.ID, fmt.Sprintf("amount=%s,from=%s", expense.Amount, expense.PaidFrom))
	return domain.ExpenseResponse{Expense: expense, CashMovement: movement}, nil
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, branchID, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.AppendAuditLog(ctx, domain.AuditLog{
		ID:            xid.New(xid.Audit),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to append audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
