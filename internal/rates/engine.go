// Package rates adjusts a base borrow rate for market volatility and
// event risk, then applies the minimum-rate floor. The floor comes last so
// no adjustment can hide a sub-minimum rate.
package rates

import (
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/decmath"
)

// Volatility add-on thresholds. Above 20 the spread desk charges a quarter
// of the factor extra per point, above 30 an additional half on top.
var (
	volThresholdLow  = decimal.NewFromInt(20)
	volThresholdHigh = decimal.NewFromInt(30)
	volSurchargeLow  = decimal.NewFromFloat(0.25)
	volSurchargeHigh = decimal.NewFromFloat(0.5)

	maxRiskFactor = 10
)

// Engine computes final borrow rates from upstream snapshots.
type Engine struct {
	volFactor   decimal.Decimal
	eventFactor decimal.Decimal
	minRate     decimal.Decimal
}

// NewEngine creates a rate engine with the given multipliers and the
// global minimum-rate floor.
func NewEngine(volFactor, eventFactor, minRate decimal.Decimal) *Engine {
	return &Engine{
		volFactor:   volFactor,
		eventFactor: eventFactor,
		minRate:     minRate,
	}
}

// Adjustment breaks out how a final rate was produced. FinalRate keeps full
// precision for downstream fee math; RoundedRate is the 4-place value
// reported to callers.
type Adjustment struct {
	VolAdj       decimal.Decimal
	EventAdj     decimal.Decimal
	FinalRate    decimal.Decimal
	RoundedRate  decimal.Decimal
	FloorApplied bool
}

// Adjust raises baseRate for volatility and event risk and floors the
// result. A per-ticker floor of zero means none is known and the global
// minimum applies. Out-of-range inputs are repaired, not rejected:
// negative volatility counts as zero, and the risk factor is clamped to
// [0, 10].
func (e *Engine) Adjust(baseRate, volIndex decimal.Decimal, riskFactor int, tickerMinRate decimal.Decimal) Adjustment {
	if volIndex.IsNegative() {
		volIndex = decimal.Zero
	}
	if riskFactor < 0 {
		riskFactor = 0
	}
	if riskFactor > maxRiskFactor {
		riskFactor = maxRiskFactor
	}

	volAdj := e.volAdjustment(volIndex)
	afterVol := baseRate.Mul(decimal.NewFromInt(1).Add(volAdj))

	// riskFactor/10 is exact as a one-place shift.
	eventAdj := decimal.NewFromInt(int64(riskFactor)).Shift(-1).Mul(e.eventFactor)
	afterEvent := afterVol.Mul(decimal.NewFromInt(1).Add(eventAdj))

	floor := e.minRate
	if tickerMinRate.IsPositive() && tickerMinRate.GreaterThan(floor) {
		floor = tickerMinRate
	}

	final := afterEvent
	floored := false
	if final.LessThan(floor) {
		final = floor
		floored = true
	}

	return Adjustment{
		VolAdj:       volAdj,
		EventAdj:     eventAdj,
		FinalRate:    final,
		RoundedRate:  decmath.RoundHalfUp(final, decmath.MoneyPrecision),
		FloorApplied: floored,
	}
}

// volAdjustment converts a volatility index into a rate multiplier
// increment. The base term scales linearly; the surcharges stack once the
// index crosses 20 and again past 30.
func (e *Engine) volAdjustment(volIndex decimal.Decimal) decimal.Decimal {
	adj := volIndex.Mul(e.volFactor)

	if volIndex.GreaterThanOrEqual(volThresholdLow) {
		excess := volIndex.Sub(volThresholdLow)
		adj = adj.Add(excess.Mul(e.volFactor).Mul(volSurchargeLow))
	}
	if volIndex.GreaterThanOrEqual(volThresholdHigh) {
		excess := volIndex.Sub(volThresholdHigh)
		adj = adj.Add(excess.Mul(e.volFactor).Mul(volSurchargeHigh))
	}

	if adj.IsNegative() {
		return decimal.Zero
	}
	return adj
}

// MinRate returns the engine's global floor.
func (e *Engine) MinRate() decimal.Decimal {
	return e.minRate
}
