package prp

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kiwoom-trader/internal/rules"
)

const (
	amountPlaces = 2
	ratePlaces   = 4
)

func qAmount(d decimal.Decimal) decimal.Decimal { return d.Round(amountPlaces) }
func qRate(d decimal.Decimal) decimal.Decimal   { return d.Round(ratePlaces) }

type buyLot struct {
	occurredAt time.Time
	price      decimal.Decimal
	remaining  int64
}

// BuildTradeDetails matches BUY lots to SELL fills FIFO per symbol and
// returns one detail row per lot consumption, plus the total SELL quantity
// that found no open lot.
//
// Events are re-sorted by (occurredAt, eventID) so the result depends only
// on the stored stream, never on caller ordering.
func BuildTradeDetails(executions []ExecutionEvent) ([]TradeDetail, int64) {
	sorted := make([]ExecutionEvent, len(executions))
	copy(sorted, executions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
		}
		return sorted[i].EventID < sorted[j].EventID
	})

	queues := make(map[string][]buyLot)
	var details []TradeDetail
	var unmatchedSellQty int64

	for _, event := range sorted {
		switch event.Side {
		case "BUY":
			queues[event.Symbol] = append(queues[event.Symbol], buyLot{
				occurredAt: event.OccurredAt,
				price:      event.ExecutionPrice,
				remaining:  event.ExecutionQty,
			})
		case "SELL":
			remainingSell := event.ExecutionQty
			queue := queues[event.Symbol]
			part := 0

			for remainingSell > 0 && len(queue) > 0 {
				lot := &queue[0]
				matched := lot.remaining
				if remainingSell < matched {
					matched = remainingSell
				}

				details = append(details, newTradeDetail(event, *lot, matched, part))

				lot.remaining -= matched
				if lot.remaining <= 0 {
					queue = queue[1:]
				}
				remainingSell -= matched
				part++
			}
			queues[event.Symbol] = queue
			unmatchedSellQty += remainingSell
		}
	}
	return details, unmatchedSellQty
}

func newTradeDetail(sell ExecutionEvent, lot buyLot, qty int64, part int) TradeDetail {
	qtyDec := decimal.NewFromInt(qty)
	buyAmount := qAmount(lot.price.Mul(qtyDec))
	sellAmount := qAmount(sell.ExecutionPrice.Mul(qtyDec))
	sellTax := qAmount(sellAmount.Mul(rules.SellTaxRate))
	sellFee := qAmount(sellAmount.Mul(rules.SellFeeRate))
	netPnl := qAmount(sellAmount.Sub(buyAmount).Sub(sellTax).Sub(sellFee))

	returnRate := decimal.Zero.Round(ratePlaces)
	if !buyAmount.IsZero() {
		returnRate = qRate(netPnl.Div(buyAmount).Mul(decimal.NewFromInt(100)))
	}

	return TradeDetail{
		ID:             fmt.Sprintf("%s-%d", sell.ExecutionID, part),
		TradingDate:    sell.TradingDate,
		Symbol:         sell.Symbol,
		BuyExecutedAt:  lot.occurredAt,
		SellExecutedAt: sell.OccurredAt,
		Quantity:       qty,
		BuyPrice:       lot.price,
		SellPrice:      sell.ExecutionPrice,
		BuyAmount:      buyAmount,
		SellAmount:     sellAmount,
		SellTax:        sellTax,
		SellFee:        sellFee,
		NetPnl:         netPnl,
		ReturnRate:     returnRate,
	}
}

// BuildDailyReport runs FIFO matching for one date's executions and
// aggregates the totals.
func BuildDailyReport(executions []ExecutionEvent, tradingDate string) ([]TradeDetail, DailyReport) {
	dayEvents := make([]ExecutionEvent, 0, len(executions))
	for _, e := range executions {
		if e.TradingDate == tradingDate {
			dayEvents = append(dayEvents, e)
		}
	}
	details, unmatched := BuildTradeDetails(dayEvents)

	totalBuy, totalSell, totalTax, totalFee, totalNet := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, d := range details {
		totalBuy = totalBuy.Add(d.BuyAmount)
		totalSell = totalSell.Add(d.SellAmount)
		totalTax = totalTax.Add(d.SellTax)
		totalFee = totalFee.Add(d.SellFee)
		totalNet = totalNet.Add(d.NetPnl)
	}

	totalReturn := decimal.Zero.Round(ratePlaces)
	if !totalBuy.IsZero() {
		totalReturn = qRate(totalNet.Div(totalBuy).Mul(decimal.NewFromInt(100)))
	}

	return details, DailyReport{
		TradingDate:      tradingDate,
		TotalBuyAmount:   qAmount(totalBuy),
		TotalSellAmount:  qAmount(totalSell),
		TotalSellTax:     qAmount(totalTax),
		TotalSellFee:     qAmount(totalFee),
		TotalNetPnl:      qAmount(totalNet),
		TotalReturnRate:  totalReturn,
		GeneratedAt:      time.Now().UTC(),
		UnmatchedSellQty: unmatched,
	}
}

func marshalPayload(payload map[string]any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return string(raw), nil
}

func unmarshalPayload(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload
}
