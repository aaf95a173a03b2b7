// Package rules holds the pure trading math shared by the strategy engine
// and the order manager: threshold predicates with an epsilon band, rate
// calculations, the KOSPI tick ladder, and sell-side tax/fee amounts.
//
// Every price, rate, and amount is a decimal.Decimal. Rates are quantised
// to 4 decimal places, amounts to 2, both with half-up rounding.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy thresholds, in percent.
var (
	DropThreshold           = decimal.NewFromFloat(1.0)
	ReboundThreshold        = decimal.NewFromFloat(0.2)
	MinProfitLockThreshold  = decimal.NewFromFloat(1.0)
	ProfitPreservationFloor = decimal.NewFromFloat(80.0)
)

// Epsilon widens every threshold comparison so that exact boundary values pass.
var Epsilon = decimal.NewFromFloat(1e-6)

// Sell-side cost rates applied to sell notional.
var (
	SellTaxRate = decimal.NewFromFloat(0.002)
	SellFeeRate = decimal.NewFromFloat(0.00011)
)

const (
	ratePlaces   = 4
	amountPlaces = 2
)

// GTE reports left >= right, allowing left to undershoot by Epsilon.
func GTE(left, right decimal.Decimal) bool {
	return left.GreaterThanOrEqual(right.Sub(Epsilon))
}

// LTE reports left <= right, allowing left to overshoot by Epsilon.
func LTE(left, right decimal.Decimal) bool {
	return left.LessThanOrEqual(right.Add(Epsilon))
}

// DropRate returns (base-current)/base*100 quantised to 4 places.
func DropRate(base, current decimal.Decimal) (decimal.Decimal, error) {
	if base.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("drop rate: base price must be positive, got %s", base)
	}
	rate := base.Sub(current).Div(base).Mul(decimal.NewFromInt(100))
	return rate.Round(ratePlaces), nil
}

// ReboundRate returns (current-low)/low*100 quantised to 4 places.
func ReboundRate(low, current decimal.Decimal) (decimal.Decimal, error) {
	if low.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("rebound rate: low price must be positive, got %s", low)
	}
	rate := current.Sub(low).Div(low).Mul(decimal.NewFromInt(100))
	return rate.Round(ratePlaces), nil
}

// ProfitPreservation returns current/max*100 quantised to 4 places.
func ProfitPreservation(current, max decimal.Decimal) (decimal.Decimal, error) {
	if max.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("profit preservation: max rate must be positive, got %s", max)
	}
	rate := current.Div(max).Mul(decimal.NewFromInt(100))
	return rate.Round(ratePlaces), nil
}

// IsDropSignal reports whether the drop from base to current reaches the
// drop threshold.
func IsDropSignal(base, current decimal.Decimal) (bool, error) {
	rate, err := DropRate(base, current)
	if err != nil {
		return false, err
	}
	return GTE(rate, DropThreshold), nil
}

// IsReboundSignal reports whether the rebound off the tracked low reaches
// the rebound threshold.
func IsReboundSignal(low, current decimal.Decimal) (bool, error) {
	rate, err := ReboundRate(low, current)
	if err != nil {
		return false, err
	}
	return GTE(rate, ReboundThreshold), nil
}

// IsMinProfitLocked reports whether the profit rate reaches the lock threshold.
func IsMinProfitLocked(profitRate decimal.Decimal) bool {
	return GTE(profitRate, MinProfitLockThreshold)
}

// IsPreservationBreak reports whether profit preservation has decayed to the
// sell floor. Only meaningful once max > 0.
func IsPreservationBreak(current, max decimal.Decimal) (bool, error) {
	rate, err := ProfitPreservation(current, max)
	if err != nil {
		return false, err
	}
	return LTE(rate, ProfitPreservationFloor), nil
}

// SellTaxAmount returns the transaction tax on a sell notional, quantised
// to 2 places.
func SellTaxAmount(sellNotional decimal.Decimal) decimal.Decimal {
	return sellNotional.Mul(SellTaxRate).Round(amountPlaces)
}

// SellFeeAmount returns the brokerage fee on a sell notional, quantised
// to 2 places.
func SellFeeAmount(sellNotional decimal.Decimal) decimal.Decimal {
	return sellNotional.Mul(SellFeeRate).Round(amountPlaces)
}
