// Package prp is the persistence layer: an append-only event log for
// strategy, order, and execution events backed by an embedded SQLite
// database, plus position snapshots and the daily report rollup.
package prp

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyEvent records a strategy-engine occurrence (candidate entered,
// local low updated, buy/sell signal, profit lock).
type StrategyEvent struct {
	EventID      string
	TradingDate  string // YYYY-MM-DD
	OccurredAt   time.Time
	Symbol       string
	EventType    string
	BasePrice    *decimal.Decimal
	LocalLow     *decimal.Decimal
	CurrentPrice *decimal.Decimal
	Payload      map[string]any
}

// OrderEvent records one order status transition.
type OrderEvent struct {
	EventID        string
	OrderID        string
	TradingDate    string
	OccurredAt     time.Time
	Symbol         string
	Side           string
	OrderType      string
	OrderPrice     decimal.Decimal
	Quantity       int64
	Status         string
	ClientOrderKey string
	ReasonCode     string
	ReasonMessage  string
}

// ExecutionEvent records one broker fill. ExecutionID is unique across the
// whole store; a second append with the same id is a no-op.
type ExecutionEvent struct {
	EventID        string
	ExecutionID    string
	OrderID        string
	TradingDate    string
	OccurredAt     time.Time
	Symbol         string
	Side           string
	ExecutionPrice decimal.Decimal
	ExecutionQty   int64
	CumQty         int64
	RemainingQty   int64
}

// PositionSnapshot is an append-only point-in-time copy of the position
// model; the latest row per trading date wins on read.
type PositionSnapshot struct {
	SnapshotID        string
	SavedAt           time.Time
	TradingDate       string
	Symbol            string
	AvgBuyPrice       decimal.Decimal
	Quantity          int64
	CurrentProfitRate decimal.Decimal
	MaxProfitRate     decimal.Decimal
	MinProfitLocked   bool
	LastOrderID       string
	StateVersion      int64
}

// TradeDetail is one FIFO-matched buy-lot/sell-fill pairing.
type TradeDetail struct {
	ID             string
	TradingDate    string
	Symbol         string
	BuyExecutedAt  time.Time
	SellExecutedAt time.Time
	Quantity       int64
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	BuyAmount      decimal.Decimal
	SellAmount     decimal.Decimal
	SellTax        decimal.Decimal
	SellFee        decimal.Decimal
	NetPnl         decimal.Decimal
	ReturnRate     decimal.Decimal
}

// DailyReport is the per-day rollup of all trade details.
type DailyReport struct {
	TradingDate     string
	TotalBuyAmount  decimal.Decimal
	TotalSellAmount decimal.Decimal
	TotalSellTax    decimal.Decimal
	TotalSellFee    decimal.Decimal
	TotalNetPnl     decimal.Decimal
	TotalReturnRate decimal.Decimal
	GeneratedAt     time.Time
	// UnmatchedSellQty counts SELL quantity that found no open buy lot
	// during FIFO matching. Non-zero values are reconciliation faults.
	UnmatchedSellQty int64
}
