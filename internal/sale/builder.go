// Package sale builds and validates the sale produced by settling a
// booking. It is pure: no storage access, no clock, no ids.
package sale

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"agendapos/backend/internal/domain"
)

// ErrInvalid wraps every validation failure produced by this package.
var ErrInvalid = errors.New("invalid sale")

// ResolvedProduct is a settlement line joined against the catalog.
type ResolvedProduct struct {
	Line    domain.ProductLineInput
	Product domain.Product
}

// Build assembles the sale for a completed booking: one service line when
// serviceAmount is positive, followed by one line per product input. All
// amounts are validated before anything is assembled.
func Build(booking domain.Booking, serviceName string, serviceAmount decimal.Decimal, products []ResolvedProduct, payments []domain.PaymentInput) (domain.Sale, error) {
	if serviceAmount.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: service amount must not be negative", ErrInvalid)
	}

	total := serviceAmount
	var lines []domain.SaleLine
	if serviceAmount.IsPositive() {
		lines = append(lines, domain.SaleLine{
			Description: serviceName,
			Quantity:    1,
			UnitPrice:   serviceAmount,
			Total:       serviceAmount,
		})
	}

	for i, rp := range products {
		if err := validateLine(rp.Line); err != nil {
			return domain.Sale{}, fmt.Errorf("line %d: %w", i, err)
		}
		lines = append(lines, domain.SaleLine{
			ProductID:   rp.Product.ID,
			Description: rp.Product.Name,
			Quantity:    rp.Line.Quantity,
			UnitPrice:   rp.Line.UnitPrice,
			Total:       rp.Line.Total,
		})
		total = total.Add(rp.Line.Total)
	}

	if len(lines) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale has no lines", ErrInvalid)
	}

	if err := validatePayments(total, payments); err != nil {
		return domain.Sale{}, err
	}

	return domain.Sale{
		BranchID:      booking.BranchID,
		CustomerID:    booking.CustomerID,
		BookingID:     booking.ID,
		Total:         total,
		PaymentMethod: ResolveMethod(payments),
		Lines:         lines,
	}, nil
}

func validateLine(l domain.ProductLineInput) error {
	if l.ProductID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalid)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalid)
	}
	want := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	if !l.Total.Round(2).Equal(want.Round(2)) {
		return fmt.Errorf("%w: line total %s does not match %s x %d", ErrInvalid, l.Total, l.UnitPrice, l.Quantity)
	}
	return nil
}

func validatePayments(total decimal.Decimal, payments []domain.PaymentInput) error {
	if len(payments) == 0 {
		return fmt.Errorf("%w: at least one payment is required", ErrInvalid)
	}
	paid := decimal.Zero
	for i, p := range payments {
		if !p.Method.TenderMethod() {
			return fmt.Errorf("%w: payment %d: unknown method %q", ErrInvalid, i, p.Method)
		}
		if !p.Amount.IsPositive() {
			return fmt.Errorf("%w: payment %d: amount must be positive", ErrInvalid, i)
		}
		paid = paid.Add(p.Amount)
	}
	if !paid.Round(2).Equal(total.Round(2)) {
		return fmt.Errorf("%w: payments %s do not cover sale total %s", ErrInvalid, paid, total)
	}
	return nil
}

// ResolveMethod collapses a payment breakdown into the sale's summary
// method: the single tender used, or mixed when more than one appears.
func ResolveMethod(payments []domain.PaymentInput) domain.PaymentMethod {
	var method domain.PaymentMethod
	for _, p := range payments {
		if method == "" {
			method = p.Method
			continue
		}
		if p.Method != method {
			return domain.PayMixed
		}
	}
	return method
}

// CashPortion sums the cash tenders of a payment breakdown. Only this
// portion is recorded against the till.
func CashPortion(payments []domain.PaymentInput) decimal.Decimal {
	cash := decimal.Zero
	for _, p := range payments {
		if p.Method == domain.PayCash {
			cash = cash.Add(p.Amount)
		}
	}
	return cash
}
