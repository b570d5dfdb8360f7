package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agendapos/backend/internal/cache"
	"agendapos/backend/internal/domain"
	"agendapos/backend/internal/store"
	"agendapos/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopCatalogCache{}, "branch-main")
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func openSession(t *testing.T, svc *Service, ctx context.Context) domain.CashSession {
	t.Helper()
	resp, err := svc.OpenCashSession(ctx, domain.SessionOpenRequest{
		BranchID:     "branch-main",
		ExpectedOpen: dec("100.00"),
	})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	return resp.Session
}

func currentStock(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	products, err := svc.ListProducts(context.Background(), "branch-main")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products.Products {
		if p.Product.ID == productID {
			return p.Stock.CurrentStock
		}
	}
	t.Fatalf("product %s not found", productID)
	return 0
}

func TestSettleNoShowTouchesBookingOnly(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	before := currentStock(t, svc, "prd-shampoo")

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID: "bkg-seed-1",
		Outcome:   domain.OutcomeNoShow,
	})
	if err != nil {
		t.Fatalf("no_show settle failed: %v", err)
	}
	if resp.Status != domain.BookingNoShow {
		t.Fatalf("expected no_show status, got %s", resp.Status)
	}
	if resp.Sale != nil {
		t.Fatalf("expected no sale for no_show")
	}

	booking, err := svc.GetBooking(ctx, "bkg-seed-1")
	if err != nil {
		t.Fatalf("get booking failed: %v", err)
	}
	if booking.Booking.SaleID != "" {
		t.Fatalf("expected booking without sale reference")
	}
	if got := currentStock(t, svc, "prd-shampoo"); got != before {
		t.Fatalf("expected stock untouched, got %d want %d", got, before)
	}
	moves, err := svc.ListStockMovements(ctx, "branch-main", "")
	if err != nil {
		t.Fatalf("list stock movements failed: %v", err)
	}
	if len(moves.Movements) != 0 {
		t.Fatalf("expected zero stock movements, got %d", len(moves.Movements))
	}
}

func TestSettleWorkedExample(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		ProductLines: []domain.ProductLineInput{
			{ProductID: "prd-shampoo", Quantity: 2, UnitPrice: dec("5.00"), Total: dec("10.00")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("40.00")},
		},
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if resp.Status != domain.BookingCompleted {
		t.Fatalf("expected completed, got %s", resp.Status)
	}
	if resp.Sale == nil {
		t.Fatalf("expected a sale")
	}
	if !resp.Sale.Total.Equal(dec("40.00")) {
		t.Fatalf("expected sale total 40.00, got %s", resp.Sale.Total)
	}
	if len(resp.Sale.Lines) != 2 {
		t.Fatalf("expected two sale lines, got %d", len(resp.Sale.Lines))
	}
	if resp.Sale.PaymentMethod != domain.PayCash {
		t.Fatalf("expected cash payment summary, got %s", resp.Sale.PaymentMethod)
	}

	if got := currentStock(t, svc, "prd-shampoo"); got != 23 {
		t.Fatalf("expected stock 23 after selling 2 of 25, got %d", got)
	}

	booking, err := svc.GetBooking(ctx, "bkg-seed-1")
	if err != nil {
		t.Fatalf("get booking failed: %v", err)
	}
	if booking.Booking.SaleID != resp.Sale.ID {
		t.Fatalf("expected booking to reference sale %s", resp.Sale.ID)
	}
	if booking.Booking.PaymentMethod != domain.PayCash {
		t.Fatalf("expected booking to record cash, got %s", booking.Booking.PaymentMethod)
	}

	totals, err := svc.SessionTotals(ctx, session.ID)
	if err != nil {
		t.Fatalf("session totals failed: %v", err)
	}
	if !totals.Totals.Incomes.Equal(dec("40.00")) {
		t.Fatalf("expected incomes 40.00, got %s", totals.Totals.Incomes)
	}
	movements, err := svc.ListCashMovements(ctx, session.ID)
	if err != nil {
		t.Fatalf("list cash movements failed: %v", err)
	}
	if len(movements.Movements) != 1 {
		t.Fatalf("expected one cash movement, got %d", len(movements.Movements))
	}
	if movements.Movements[0].SaleID != resp.Sale.ID {
		t.Fatalf("expected income movement to reference the sale")
	}
}

func TestSettleCashRequiresOpenSession(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	_, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("30.00")},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict without open session, got %v", err)
	}

	booking, err := svc.GetBooking(ctx, "bkg-seed-1")
	if err != nil {
		t.Fatalf("get booking failed: %v", err)
	}
	if booking.Booking.Status != domain.BookingConfirmed {
		t.Fatalf("expected booking to stay confirmed, got %s", booking.Booking.Status)
	}
	if booking.Booking.SaleID != "" {
		t.Fatalf("expected no sale to be created")
	}
}

func TestSettleCardOnlyNeedsNoSession(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		Payments: []domain.PaymentInput{
			{Method: domain.PayCard, Amount: dec("30.00")},
		},
	})
	if err != nil {
		t.Fatalf("card settle failed: %v", err)
	}
	if resp.Sale.PaymentMethod != domain.PayCard {
		t.Fatalf("expected card, got %s", resp.Sale.PaymentMethod)
	}

	movements, err := svc.ListCashMovements(ctx, session.ID)
	if err != nil {
		t.Fatalf("list cash movements failed: %v", err)
	}
	if len(movements.Movements) != 0 {
		t.Fatalf("expected zero cash movements for card-only settle, got %d", len(movements.Movements))
	}
}

func TestSettleMixedPaymentRecordsCashPortionOnly(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("10.00")},
			{Method: domain.PayCard, Amount: dec("20.00")},
		},
	})
	if err != nil {
		t.Fatalf("mixed settle failed: %v", err)
	}
	if resp.Sale.PaymentMethod != domain.PayMixed {
		t.Fatalf("expected mixed summary, got %s", resp.Sale.PaymentMethod)
	}

	totals, err := svc.SessionTotals(ctx, session.ID)
	if err != nil {
		t.Fatalf("session totals failed: %v", err)
	}
	if !totals.Totals.Incomes.Equal(dec("10.00")) {
		t.Fatalf("expected only the cash portion 10.00 in the till, got %s", totals.Totals.Incomes)
	}
}

func TestSettleAmountMismatchHasNoSideEffects(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)
	before := currentStock(t, svc, "prd-shampoo")

	_, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		ProductLines: []domain.ProductLineInput{
			{ProductID: "prd-shampoo", Quantity: 2, UnitPrice: dec("5.00"), Total: dec("10.00")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("35.00")},
		},
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument on amount mismatch, got %v", err)
	}

	if got := currentStock(t, svc, "prd-shampoo"); got != before {
		t.Fatalf("expected stock untouched after mismatch, got %d want %d", got, before)
	}
	booking, _ := svc.GetBooking(ctx, "bkg-seed-1")
	if booking.Booking.Status != domain.BookingConfirmed {
		t.Fatalf("expected booking to stay confirmed, got %s", booking.Booking.Status)
	}
}

func TestSettleInsufficientStockIsAllOrNothing(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)
	shampooBefore := currentStock(t, svc, "prd-shampoo")
	waxBefore := currentStock(t, svc, "prd-wax")

	_, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: decimal.Zero,
		ProductLines: []domain.ProductLineInput{
			{ProductID: "prd-wax", Quantity: 1, UnitPrice: dec("12.50"), Total: dec("12.50")},
			{ProductID: "prd-shampoo", Quantity: 9999, UnitPrice: dec("5.00"), Total: dec("49995.00")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("50007.50")},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict for insufficient stock, got %v", err)
	}

	if got := currentStock(t, svc, "prd-shampoo"); got != shampooBefore {
		t.Fatalf("expected shampoo stock untouched, got %d", got)
	}
	if got := currentStock(t, svc, "prd-wax"); got != waxBefore {
		t.Fatalf("expected wax stock untouched, got %d", got)
	}
	booking, _ := svc.GetBooking(ctx, "bkg-seed-1")
	if booking.Booking.Status != domain.BookingConfirmed {
		t.Fatalf("expected booking to stay confirmed, got %s", booking.Booking.Status)
	}
}

func TestSettleSameBookingTwice(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	req := domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("30.00")},
		},
	}
	if _, err := svc.Settle(ctx, req); err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	_, err := svc.Settle(ctx, req)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict on second settle, got %v", err)
	}

	movements, err := svc.ListCashMovements(ctx, session.ID)
	if err != nil {
		t.Fatalf("list cash movements failed: %v", err)
	}
	if len(movements.Movements) != 1 {
		t.Fatalf("expected a single income movement after retry, got %d", len(movements.Movements))
	}
}

func TestSettleUnknownProduct(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)

	_, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: decimal.Zero,
		ProductLines: []domain.ProductLineInput{
			{ProductID: "prd-nope", Quantity: 1, UnitPrice: dec("5.00"), Total: dec("5.00")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("5.00")},
		},
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for unknown product, got %v", err)
	}
}

func TestSettleMissingBooking(t *testing.T) {
	svc := newTestService()
	_, err := svc.Settle(staffCtx(), domain.SettleRequest{
		BookingID: "bkg-missing",
		Outcome:   domain.OutcomeNoShow,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSettlePendingBookingIsAllowed(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-2",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("45.00"),
		Payments: []domain.PaymentInput{
			{Method: domain.PayTransfer, Amount: dec("45.00")},
		},
	})
	if err != nil {
		t.Fatalf("settling a pending booking failed: %v", err)
	}
	if resp.Status != domain.BookingCompleted {
		t.Fatalf("expected completed, got %s", resp.Status)
	}
}

func TestApplyStockMovementValidation(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	_, err := svc.ApplyStockMovement(ctx, domain.StockMovementRequest{ProductID: "prd-shampoo", Quantity: 0, Type: domain.StockAdjustment})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for zero delta, got %v", err)
	}

	_, err = svc.ApplyStockMovement(ctx, domain.StockMovementRequest{ProductID: "prd-shampoo", Quantity: 1, Type: "donation"})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for unknown type, got %v", err)
	}

	_, err = svc.ApplyStockMovement(ctx, domain.StockMovementRequest{ProductID: "prd-shampoo", Quantity: 1, Type: domain.StockPurchase, ReferenceType: "sale"})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for partial reference, got %v", err)
	}

	_, err = svc.ApplyStockMovement(ctx, domain.StockMovementRequest{ProductID: "prd-missing", Quantity: 1, Type: domain.StockPurchase})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown product, got %v", err)
	}

	_, err = svc.ApplyStockMovement(ctx, domain.StockMovementRequest{ProductID: "prd-shampoo", Quantity: -9999, Type: domain.StockAdjustment})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict when stock would go negative, got %v", err)
	}
}

func TestRemoveStockMovementReversesEffect(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	before := currentStock(t, svc, "prd-shampoo")

	applied, err := svc.ApplyStockMovement(ctx, domain.StockMovementRequest{
		ProductID: "prd-shampoo",
		Quantity:  5,
		Type:      domain.StockPurchase,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied.Stock.CurrentStock != before+5 {
		t.Fatalf("expected stock %d, got %d", before+5, applied.Stock.CurrentStock)
	}

	removed, err := svc.RemoveStockMovement(ctx, applied.Movement.ID)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed.Stock.CurrentStock != before {
		t.Fatalf("expected stock back to %d, got %d", before, removed.Stock.CurrentStock)
	}

	if _, err := svc.RemoveStockMovement(ctx, applied.Movement.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected NotFound for already removed movement, got %v", err)
	}
}

func TestRemoveReferencedStockMovement(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)

	_, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: decimal.Zero,
		ProductLines: []domain.ProductLineInput{
			{ProductID: "prd-shampoo", Quantity: 1, UnitPrice: dec("5.00"), Total: dec("5.00")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PayCash, Amount: dec("5.00")},
		},
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	moves, err := svc.ListStockMovements(ctx, "branch-main", "prd-shampoo")
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(moves.Movements) != 1 {
		t.Fatalf("expected one sale movement, got %d", len(moves.Movements))
	}
	_, err = svc.RemoveStockMovement(ctx, moves.Movements[0].ID)
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for referenced movement, got %v", err)
	}
}

func TestRemoveStockMovementGuardsAgainstNegativeReversal(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	added, err := svc.ApplyStockMovement(ctx, domain.StockMovementRequest{
		ProductID: "prd-shampoo",
		Quantity:  5,
		Type:      domain.StockPurchase,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	// Consume almost everything so reversing the +5 would go negative.
	if _, err := svc.ApplyStockMovement(ctx, domain.StockMovementRequest{
		ProductID: "prd-shampoo",
		Quantity:  -28,
		Type:      domain.StockAdjustment,
	}); err != nil {
		t.Fatalf("adjustment failed: %v", err)
	}

	_, err = svc.RemoveStockMovement(ctx, added.Movement.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict when reversal would go negative, got %v", err)
	}
}

func TestCashSessionLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	if _, err := svc.OpenCashSession(ctx, domain.SessionOpenRequest{BranchID: "branch-main", ExpectedOpen: dec("50.00")}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict on double open, got %v", err)
	}

	for _, m := range []domain.CashMovementRequest{
		{SessionID: session.ID, Type: domain.CashIncome, Amount: dec("25.00"), Reason: "walk-in"},
		{SessionID: session.ID, Type: domain.CashExpense, Amount: dec("4.00"), Reason: "supplies"},
		{SessionID: session.ID, Type: domain.CashAdjustment, Amount: dec("1.50"), Reason: "count correction"},
	} {
		if _, err := svc.RecordCashMovement(ctx, m); err != nil {
			t.Fatalf("record %s failed: %v", m.Type, err)
		}
	}

	totals, err := svc.SessionTotals(ctx, session.ID)
	if err != nil {
		t.Fatalf("totals failed: %v", err)
	}
	if !totals.Totals.Incomes.Equal(dec("25.00")) || !totals.Totals.Expenses.Equal(dec("4.00")) || !totals.Totals.Adjustments.Equal(dec("1.50")) {
		t.Fatalf("unexpected totals: %+v", totals.Totals)
	}
	if !totals.Totals.Balance.Equal(dec("22.50")) {
		t.Fatalf("expected balance 22.50, got %s", totals.Totals.Balance)
	}

	expected := dec("122.50")
	closed, err := svc.CloseCashSession(ctx, domain.SessionCloseRequest{SessionID: session.ID, ExpectedClose: &expected, Note: "end of day"})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Session.ClosedAt == nil {
		t.Fatalf("expected closed_at to be stamped")
	}
	if closed.Session.ExpectedClose == nil || !closed.Session.ExpectedClose.Equal(expected) {
		t.Fatalf("expected caller-supplied expected_close to be stored as-is")
	}

	if _, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: domain.CashIncome, Amount: dec("1.00")}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict recording into closed session, got %v", err)
	}
	if _, err := svc.CloseCashSession(ctx, domain.SessionCloseRequest{SessionID: session.ID}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict closing twice, got %v", err)
	}

	// A new session may open once the previous one is closed.
	if _, err := svc.OpenCashSession(ctx, domain.SessionOpenRequest{BranchID: "branch-main", ExpectedOpen: dec("80.00")}); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
}

func TestRecordCashMovementValidation(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	if _, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: "tip", Amount: dec("1.00")}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for unknown type, got %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: domain.CashIncome, Amount: dec("0")}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for non-positive amount, got %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: domain.CashIncome, Amount: dec("1.00"), SaleID: "sal-1", ExpenseID: "exp-1"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for both references, got %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: "ses-missing", Type: domain.CashIncome, Amount: dec("1.00")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected NotFound for missing session, got %v", err)
	}
}

func TestRemoveCashMovement(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	session := openSession(t, svc, ctx)

	manual, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: domain.CashAdjustment, Amount: dec("2.00"), Reason: "typo fix"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := svc.RemoveCashMovement(ctx, manual.Movement.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	expense, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{BranchID: "branch-main", Concept: "coffee", Amount: dec("3.00"), FromTill: true})
	if err != nil {
		t.Fatalf("expense failed: %v", err)
	}
	if err := svc.RemoveCashMovement(ctx, expense.CashMovement.ID); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for referenced movement, got %v", err)
	}

	lingering, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{SessionID: session.ID, Type: domain.CashIncome, Amount: dec("9.00")})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := svc.CloseCashSession(ctx, domain.SessionCloseRequest{SessionID: session.ID}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.RemoveCashMovement(ctx, lingering.Movement.ID); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument removing from closed session, got %v", err)
	}
}

func TestCreateExpense(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	// External expenses need no session and create no movement.
	external, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{BranchID: "branch-main", Concept: "rent", Amount: dec("500.00")})
	if err != nil {
		t.Fatalf("external expense failed: %v", err)
	}
	if external.CashMovement != nil {
		t.Fatalf("expected no cash movement for external expense")
	}
	if external.Expense.PaidFrom != "external" {
		t.Fatalf("expected paid_from external, got %s", external.Expense.PaidFrom)
	}

	if _, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{BranchID: "branch-main", Concept: "coffee", Amount: dec("3.00"), FromTill: true}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict for till expense without session, got %v", err)
	}

	session := openSession(t, svc, ctx)
	till, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{BranchID: "branch-main", Concept: "coffee", Amount: dec("3.00"), FromTill: true})
	if err != nil {
		t.Fatalf("till expense failed: %v", err)
	}
	if till.CashMovement == nil || till.CashMovement.ExpenseID != till.Expense.ID {
		t.Fatalf("expected a cash movement referencing the expense")
	}

	totals, err := svc.SessionTotals(ctx, session.ID)
	if err != nil {
		t.Fatalf("totals failed: %v", err)
	}
	if !totals.Totals.Expenses.Equal(dec("3.00")) {
		t.Fatalf("expected expenses 3.00, got %s", totals.Totals.Expenses)
	}
}

func TestCreateProduct(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateProduct(staffCtx(), domain.ProductCreateRequest{SKU: "ret-gel", Name: "Hair Gel", Price: dec("7.00")}); err == nil {
		t.Fatalf("expected staff product creation to fail")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		BranchID:     "branch-main",
		SKU:          "ret-gel",
		Name:         "Hair Gel",
		Price:        dec("7.00"),
		MinStock:     2,
		InitialStock: 10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.Product.SKU != "RET-GEL" {
		t.Fatalf("expected sku to be normalized, got %s", created.Product.SKU)
	}
	if created.Stock.CurrentStock != 10 {
		t.Fatalf("expected initial stock 10, got %d", created.Stock.CurrentStock)
	}

	moves, err := svc.ListStockMovements(context.Background(), "branch-main", created.Product.ID)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(moves.Movements) != 1 || moves.Movements[0].Type != domain.StockPurchase {
		t.Fatalf("expected one purchase movement for initial stock")
	}

	if _, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{BranchID: "branch-main", SKU: "RET-GEL", Name: "Duplicate", Price: dec("1.00")}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict for duplicate sku, got %v", err)
	}
}

func TestBookingLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	now := time.Now().UTC()

	created, err := svc.CreateBooking(ctx, domain.BookingCreateRequest{
		BranchID:   "branch-main",
		CustomerID: "cust-new",
		ServiceID:  "svc-haircut",
		StartsAt:   now.Add(24 * time.Hour),
		EndsAt:     now.Add(25 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create booking failed: %v", err)
	}
	if created.Booking.Status != domain.BookingPending {
		t.Fatalf("expected pending, got %s", created.Booking.Status)
	}

	confirmed, err := svc.ConfirmBooking(ctx, created.Booking.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Booking.Status != domain.BookingConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Booking.Status)
	}
	if _, err := svc.ConfirmBooking(ctx, created.Booking.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict confirming twice, got %v", err)
	}

	cancelled, err := svc.CancelBooking(ctx, created.Booking.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Booking.Status != domain.BookingCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Booking.Status)
	}

	if _, err := svc.Settle(ctx, domain.SettleRequest{BookingID: created.Booking.ID, Outcome: domain.OutcomeNoShow}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected Conflict settling a cancelled booking, got %v", err)
	}

	if _, err := svc.CreateBooking(ctx, domain.BookingCreateRequest{CustomerID: "cust-new", ServiceID: "svc-haircut", StartsAt: now.Add(2 * time.Hour), EndsAt: now.Add(1 * time.Hour)}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for inverted window, got %v", err)
	}
}

func TestAuditTrailRecordsSettlement(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()
	openSession(t, svc, ctx)

	if _, err := svc.Settle(ctx, domain.SettleRequest{
		BookingID:     "bkg-seed-1",
		Outcome:       domain.OutcomeCompleted,
		ServiceAmount: dec("30.00"),
		Payments:      []domain.PaymentInput{{Method: domain.PayCash, Amount: dec("30.00")}},
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "branch-main", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "booking_settle" && entry.ActorUsername == "staff" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a booking_settle audit entry")
	}
}
