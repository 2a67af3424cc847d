// Package decmath is the fixed-precision arithmetic kernel used by every
// rate and fee computation. All money and rate values flow through
// shopspring decimals; boundary rounding is half-up (0.5 away from zero).
package decmath

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// DaysInYear is the annualization divisor. No calendar-aware day
	// counting: a year is always 365 days.
	DaysInYear = 365

	// MoneyPrecision is the number of fractional digits kept at
	// component boundaries for rates and fees.
	MoneyPrecision = 4

	// divPrecision bounds internal division results. Intermediate values
	// keep full precision; only boundary values are rounded to
	// MoneyPrecision.
	divPrecision = 16
)

// Zero is the canonical zero value.
var Zero = decimal.Zero

// SumTolerance bounds acceptable drift between a rounded total and the sum
// of its parts.
var SumTolerance = decimal.New(1, -MoneyPrecision)

// Add returns a + b.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// Sub returns a - b.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b)
}

// Mul returns a * b.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b)
}

// Div returns a / b at internal precision. Division by zero never panics:
// the caller-supplied default is returned and the event is logged.
func Div(a, b, dflt decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		log.Warn().
			Str("comp", "decmath").
			Str("numerator", a.String()).
			Str("default", dflt.String()).
			Msg("division by zero, returning default")
		return dflt
	}
	return a.DivRound(b, divPrecision)
}

// RoundHalfUp rounds v to the given number of fractional digits with 0.5
// always rounding away from zero. shopspring's Round carries exactly these
// semantics; the wrapper pins the name to the contract.
func RoundHalfUp(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Round(places)
}

// RoundMoney rounds v at the component-boundary precision.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(v, MoneyPrecision)
}

// PercentOf returns base * pct / 100. The divide-by-100 is an exact
// exponent shift, so no precision is lost.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Shift(-2)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Canonical renders v in its minimal decimal string form: trailing
// fractional zeros stripped, '.' separator, no grouping. Cache fingerprints
// depend on this form being stable for equal values.
func Canonical(v decimal.Decimal) string {
	s := v.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// FromFloat converts a float64 into a decimal. Used at ingest edges where
// upstream JSON carries plain numbers.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// FromInt converts an int64 into a decimal.
func FromInt(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

// Parse converts a decimal string, reporting an error on malformed input.
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse converts a decimal string and panics on malformed input. For
// constants and tests only.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
