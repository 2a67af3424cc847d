// Package fees turns a final borrow rate into a client-facing locate fee:
// borrow cost for the loan period, broker markup, and the transaction fee
// from the broker's fee schedule.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/decmath"
	"github.com/shortwire/borrowd/internal/domain"
)

// Input carries everything one fee calculation needs. AnnualRate is the
// full-precision final rate from the rate engine.
type Input struct {
	PositionValue decimal.Decimal
	LoanDays      int
	AnnualRate    decimal.Decimal
	MarkupPct     decimal.Decimal
	FeeType       domain.FeeType
	FeeAmount     decimal.Decimal
}

// Engine computes fee breakdowns. The day count is fixed at construction;
// no calendar-aware conventions apply.
type Engine struct {
	daysInYear decimal.Decimal
}

// NewEngine creates a fee engine annualizing over daysInYear.
func NewEngine(daysInYear int) *Engine {
	return &Engine{daysInYear: decimal.NewFromInt(int64(daysInYear))}
}

// Calculate produces the fee breakdown and total. Every component is
// rounded half-up at 4 places; only the annualization division carries
// extended internal precision. The invariant checks are defensive: a
// violation is a bug, reported as a CalculationError.
func (e *Engine) Calculate(in Input) (domain.FeeBreakdown, decimal.Decimal, error) {
	dailyRate := decmath.Div(in.AnnualRate, e.daysInYear, decimal.Zero)

	borrowCost := decmath.RoundMoney(in.PositionValue.Mul(dailyRate).Mul(decimal.NewFromInt(int64(in.LoanDays))))
	markup := decmath.RoundMoney(decmath.PercentOf(borrowCost, in.MarkupPct))

	var transactionFee decimal.Decimal
	switch in.FeeType {
	case domain.FeeTypePercentage:
		transactionFee = decmath.RoundMoney(decmath.PercentOf(in.PositionValue, in.FeeAmount))
	default:
		// Flat fees apply regardless of position size.
		transactionFee = in.FeeAmount
	}

	total := decmath.RoundMoney(borrowCost.Add(markup).Add(transactionFee))

	breakdown := domain.FeeBreakdown{
		BorrowCost:      borrowCost,
		Markup:          markup,
		TransactionFees: transactionFee,
	}
	if err := checkInvariants(breakdown, total); err != nil {
		return domain.FeeBreakdown{}, decimal.Zero, err
	}
	return breakdown, total, nil
}

// checkInvariants asserts non-negative components and that the breakdown
// sums to the total.
func checkInvariants(b domain.FeeBreakdown, total decimal.Decimal) error {
	if b.BorrowCost.IsNegative() || b.Markup.IsNegative() || b.TransactionFees.IsNegative() || total.IsNegative() {
		return domain.Ef(domain.KindCalculationError,
			"negative fee component: borrow_cost=%s markup=%s transaction_fees=%s total=%s",
			b.BorrowCost, b.Markup, b.TransactionFees, total)
	}

	sum := b.BorrowCost.Add(b.Markup).Add(b.TransactionFees)
	if !sum.Sub(total).Abs().LessThanOrEqual(decmath.SumTolerance) {
		return domain.Ef(domain.KindCalculationError,
			"breakdown sum %s does not match total %s", sum, total)
	}
	return nil
}
