package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// KOSPI price bands and their tick sizes, ascending. A price below the
// band's upper bound uses that band's tick; at or above the last bound
// the tick is 1000 won.
var tickBands = []struct {
	upper decimal.Decimal
	tick  decimal.Decimal
}{
	{decimal.NewFromInt(1000), decimal.NewFromInt(1)},
	{decimal.NewFromInt(5000), decimal.NewFromInt(5)},
	{decimal.NewFromInt(10000), decimal.NewFromInt(10)},
	{decimal.NewFromInt(50000), decimal.NewFromInt(50)},
	{decimal.NewFromInt(100000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(500000), decimal.NewFromInt(500)},
}

var maxTick = decimal.NewFromInt(1000)

// TickSize returns the KOSPI tick size for a price.
func TickSize(price decimal.Decimal) decimal.Decimal {
	for _, band := range tickBands {
		if price.LessThan(band.upper) {
			return band.tick
		}
	}
	return maxTick
}

// AlignDownToTick floors a price onto the tick grid.
func AlignDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Floor().Mul(tick)
}

// SellLimitPrice returns the limit price for an exit order: two ticks under
// the current price, aligned down to the tick grid. The tick is read at the
// current price, so the result sits exactly 2*tick below a grid-aligned input.
func SellLimitPrice(current decimal.Decimal) (decimal.Decimal, error) {
	if current.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("sell limit: current price must be positive, got %s", current)
	}
	tick := TickSize(current)
	limit := AlignDownToTick(current.Sub(tick.Mul(decimal.NewFromInt(2))), tick)
	if limit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("sell limit: computed price %s is not positive", limit)
	}
	return limit, nil
}

// BuyLimitPrice returns the limit price for an entry order: ticksUp steps
// above the current price. The tick ladder is re-read after every step so
// prices that cross a band boundary pick up the larger tick.
func BuyLimitPrice(current decimal.Decimal, ticksUp int) (decimal.Decimal, error) {
	if current.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("buy limit: current price must be positive, got %s", current)
	}
	if ticksUp < 0 {
		return decimal.Zero, fmt.Errorf("buy limit: ticksUp must be >= 0, got %d", ticksUp)
	}
	price := current
	for i := 0; i < ticksUp; i++ {
		price = price.Add(TickSize(price))
	}
	return price, nil
}
