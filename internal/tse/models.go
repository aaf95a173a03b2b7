// Package tse is the strategy engine: per-symbol drop/rebound tracking
// against a reference price, a single-position portfolio gate, and the
// profit-preservation sell signal. It is event-driven and side-effect
// free; callers feed quotes and position updates in and receive order
// commands and strategy events back.
package tse

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol states.
const (
	SymbolWaitReference = "WAIT_REFERENCE"
	SymbolTracking      = "TRACKING"
	SymbolBuyCandidate  = "BUY_CANDIDATE"
	SymbolBuyTriggered  = "BUY_TRIGGERED"
	SymbolBuyBlocked    = "BUY_BLOCKED"
)

// Portfolio states.
const (
	PortfolioNoPosition     = "NO_POSITION"
	PortfolioBuyRequested   = "BUY_REQUESTED"
	PortfolioPositionOpen   = "POSITION_OPEN"
	PortfolioSellRequested  = "SELL_REQUESTED"
	PortfolioPositionClosed = "POSITION_CLOSED"
)

// Position update states reported by the order manager.
const (
	UpdateBuyRequested  = "BUY_REQUESTED"
	UpdateLongOpen      = "LONG_OPEN"
	UpdateSellRequested = "SELL_REQUESTED"
	UpdateClosed        = "CLOSED"
	UpdateBuyFailed     = "BUY_FAILED"
)

// Strategy event types.
const (
	EventBuyCandidateEntered = "BUY_CANDIDATE_ENTERED"
	EventLocalLowUpdated     = "LOCAL_LOW_UPDATED"
	EventBuySignal           = "BUY_SIGNAL"
	EventMinProfitLocked     = "MIN_PROFIT_LOCKED"
	EventSellSignal          = "SELL_SIGNAL"
)

// MaxWatchSymbols caps the daily watch list.
const MaxWatchSymbols = 20

// SymbolContext is the per-symbol, per-day tracking state. TrackedLow is
// only meaningful in BUY_CANDIDATE.
type SymbolContext struct {
	Symbol         string
	WatchRank      int
	State          string
	ReferencePrice *decimal.Decimal
	TrackedLow     *decimal.Decimal
	LastQuoteAt    time.Time
	LastSequence   int
}

// PortfolioContext is the single-position gate. GateOpen closes when a buy
// is dispatched and only reopens on a failed buy.
type PortfolioContext struct {
	State           string
	GateOpen        bool
	ActiveSymbol    string
	MinProfitLocked bool
	SellSignaled    bool
}

// QuoteEvent is one quote fed into the engine.
type QuoteEvent struct {
	TradingDate  string // YYYY-MM-DD
	OccurredAt   time.Time
	Symbol       string
	CurrentPrice decimal.Decimal
	Sequence     int
}

// PositionUpdateEvent mirrors the order manager's position after a
// reconcile or a submit outcome.
type PositionUpdateEvent struct {
	TradingDate       string
	Symbol            string
	PositionState     string
	AvgBuyPrice       decimal.Decimal
	CurrentPrice      decimal.Decimal
	CurrentProfitRate decimal.Decimal
	MaxProfitRate     decimal.Decimal
	MinProfitLocked   bool
	UpdatedAt         time.Time
}

// OrderCommand instructs the orchestration layer to place an order.
type OrderCommand struct {
	CommandID   string
	TradingDate string
	Symbol      string
	Side        string // BUY | SELL
	OrderPrice  decimal.Decimal
	ReasonCode  string
}

// StrategyEvent is an observable strategy occurrence for the event log.
type StrategyEvent struct {
	EventType     string
	TradingDate   string
	Symbol        string
	OccurredAt    time.Time
	StrategyState string
	Metrics       map[string]any
}

// Output collects what one engine call produced.
type Output struct {
	Commands       []OrderCommand
	StrategyEvents []StrategyEvent
}

// DailyContext is the full per-day engine state.
type DailyContext struct {
	TradingDate string
	Symbols     map[string]*SymbolContext
	Portfolio   PortfolioContext
}
