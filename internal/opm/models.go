// Package opm manages order lifecycle and the single intraday position:
// the order status state machine, exactly-once fill reconciliation against
// the event store, and interim mark-to-market P&L.
package opm

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order statuses.
const (
	StatusPendingSubmit   = "PENDING_SUBMIT"
	StatusSubmitted       = "SUBMITTED"
	StatusAccepted        = "ACCEPTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusRejected        = "REJECTED"
	StatusCanceled        = "CANCELED"
	StatusReconciling     = "RECONCILING"
)

// Position states.
const (
	PositionFlat     = "FLAT"
	PositionLongOpen = "LONG_OPEN"
	PositionExiting  = "EXITING"
	PositionClosed   = "CLOSED"
)

// OrderAggregate is the mutable order record. Terminal statuses (FILLED,
// REJECTED, CANCELED) are sinks.
type OrderAggregate struct {
	ID             string
	TradingDate    string // YYYY-MM-DD
	Symbol         string
	Side           Side
	OrderType      string
	RequestedPrice decimal.Decimal
	RequestedQty   int64
	Status         string
	BrokerOrderID  string
	ClientOrderID  string
	CumExecutedQty int64
	AvgExecPrice   decimal.Decimal
	RemainingQty   int64
	LastErrorCode  string
	LastUpdatedAt  time.Time
}

// Position is the single intraday long position. MaxProfitRate only ever
// rises; MinProfitLocked latches and never resets once set.
type Position struct {
	ID                string
	TradingDate       string
	Symbol            string
	State             string
	Quantity          int64
	AvgBuyPrice       decimal.Decimal
	BuyNotional       decimal.Decimal
	SellQuantity      int64
	AvgSellPrice      decimal.Decimal
	SellNotional      decimal.Decimal
	CurrentPrice      decimal.Decimal
	GrossInterimPnl   decimal.Decimal
	EstSellTax        decimal.Decimal
	EstSellFee        decimal.Decimal
	NetInterimPnl     decimal.Decimal
	CurrentProfitRate decimal.Decimal
	MaxProfitRate     decimal.Decimal
	MinProfitLocked   bool
	StateVersion      int64
	UpdatedAt         time.Time
}

// NewPosition starts a flat position for one symbol-day.
func NewPosition(id, tradingDate, symbol string, now time.Time) *Position {
	return &Position{
		ID:          id,
		TradingDate: tradingDate,
		Symbol:      symbol,
		State:       PositionFlat,
		UpdatedAt:   now,
	}
}

// Fill is one broker execution to reconcile into the order and position.
type Fill struct {
	ExecutionID string
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Qty         int64
	ExecutedAt  time.Time
}
