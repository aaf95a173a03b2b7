package prp

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func exe(eventID, execID, symbol, side string, price string, qty int64, at time.Time) ExecutionEvent {
	return ExecutionEvent{
		EventID:        eventID,
		ExecutionID:    execID,
		OrderID:        "ord-1",
		TradingDate:    "2026-02-17",
		OccurredAt:     at,
		Symbol:         symbol,
		Side:           side,
		ExecutionPrice: d(price),
		ExecutionQty:   qty,
	}
}

func TestBuildDailyReportSingleRoundTrip(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	executions := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "10000", 10, day.Add(9*time.Hour)),
		exe("e2", "x2", "005930", "SELL", "10100", 10, day.Add(14*time.Hour+30*time.Minute)),
	}

	details, report := BuildDailyReport(executions, "2026-02-17")
	require.Len(t, details, 1)
	require.Equal(t, "x2-0", details[0].ID)
	require.EqualValues(t, 10, details[0].Quantity)

	require.True(t, report.TotalBuyAmount.Equal(d("100000.00")))
	require.True(t, report.TotalSellAmount.Equal(d("101000.00")))
	require.True(t, report.TotalSellTax.Equal(d("202.00")))
	require.True(t, report.TotalSellFee.Equal(d("11.11")))
	require.True(t, report.TotalNetPnl.Equal(d("786.89")))
	require.True(t, report.TotalReturnRate.Equal(d("0.7869")))
	require.EqualValues(t, 0, report.UnmatchedSellQty)
}

func TestBuildTradeDetailsFIFOAcrossLots(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	executions := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "10000", 6, day),
		exe("e2", "x2", "005930", "BUY", "10050", 4, day.Add(time.Minute)),
		exe("e3", "x3", "005930", "SELL", "10100", 8, day.Add(time.Hour)),
	}

	details, unmatched := BuildTradeDetails(executions)
	require.Len(t, details, 2)
	require.EqualValues(t, 0, unmatched)

	// Oldest lot consumed first, then the next lot for the remainder.
	require.Equal(t, "x3-0", details[0].ID)
	require.EqualValues(t, 6, details[0].Quantity)
	require.True(t, details[0].BuyPrice.Equal(d("10000")))

	require.Equal(t, "x3-1", details[1].ID)
	require.EqualValues(t, 2, details[1].Quantity)
	require.True(t, details[1].BuyPrice.Equal(d("10050")))

	var total int64
	for _, det := range details {
		total += det.Quantity
	}
	require.EqualValues(t, 8, total)
}

func TestBuildTradeDetailsOversellDiscarded(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	executions := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "10000", 3, day),
		exe("e2", "x2", "005930", "SELL", "10100", 5, day.Add(time.Hour)),
		exe("e3", "x3", "000660", "SELL", "200000", 2, day.Add(2*time.Hour)),
	}

	details, unmatched := BuildTradeDetails(executions)
	require.Len(t, details, 1)
	require.EqualValues(t, 3, details[0].Quantity)
	// 2 over-sold on 005930 plus 2 with no lot at all on 000660.
	require.EqualValues(t, 4, unmatched)
}

func TestBuildTradeDetailsIgnoresCallerOrdering(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	ordered := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "10000", 10, day),
		exe("e2", "x2", "005930", "SELL", "10100", 10, day.Add(time.Hour)),
	}
	shuffled := []ExecutionEvent{ordered[1], ordered[0]}

	a, _ := BuildTradeDetails(ordered)
	b, _ := BuildTradeDetails(shuffled)
	require.Equal(t, a, b)
}

func TestBuildDailyReportDeterministic(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	executions := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "70123", 7, day),
		exe("e2", "x2", "005930", "SELL", "70900", 7, day.Add(time.Hour)),
	}

	detailsA, reportA := BuildDailyReport(executions, "2026-02-17")
	detailsB, reportB := BuildDailyReport(executions, "2026-02-17")
	require.Equal(t, detailsA, detailsB)
	require.True(t, reportA.TotalNetPnl.Equal(reportB.TotalNetPnl))
	require.True(t, reportA.TotalReturnRate.Equal(reportB.TotalReturnRate))
}

func TestBuildDailyReportFiltersOtherDays(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	other := exe("e9", "x9", "005930", "BUY", "10000", 5, day)
	other.TradingDate = "2026-02-16"

	details, report := BuildDailyReport([]ExecutionEvent{other}, "2026-02-17")
	require.Empty(t, details)
	require.True(t, report.TotalBuyAmount.IsZero())
}
