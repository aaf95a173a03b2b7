// Package uag is the application gateway: engine lifecycle, the quote
// monitoring worker, command-to-order execution, monitoring snapshots, and
// the response envelope consumed by the HTTP layer.
package uag

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine states.
const (
	EngineIdle    = "IDLE"
	EngineRunning = "RUNNING"
)

// ErrEngineAlreadyRunning is the start-trading double-start error code.
const ErrEngineAlreadyRunning = "UAG_ENGINE_ALREADY_RUNNING"

// RuntimeState is the mutable engine state behind the service mutex.
type RuntimeState struct {
	EngineState      string
	TradingStartedAt time.Time
	DryRun           bool
	TradingDate      string // YYYY-MM-DD, empty before the first start

	QuoteLoopState              string
	QuoteCyclesTotal            int
	QuoteLastPollCycleID        string
	QuoteLastCycleAt            time.Time
	QuoteLastCyclePartial       bool
	QuoteLastQuoteCount         int
	QuoteLastErrorCount         int
	QuoteLastCommandCount       int
	QuoteLastStrategyEventCount int
	QuoteLastCycleError         string
}

// MonitoringSnapshot is one symbol's UI row state. Price fields are nil
// until first captured.
type MonitoringSnapshot struct {
	SymbolCode          string
	SymbolName          string
	PriceAtReference    *decimal.Decimal
	CurrentPrice        *decimal.Decimal
	CurrentPriceAtClose *decimal.Decimal
	PreviousLowTime     *time.Time
	PreviousLowPrice    *decimal.Decimal
	BuyTime             *time.Time
	BuyPrice            *decimal.Decimal
	PreviousHighTime    *time.Time
	PreviousHighPrice   *decimal.Decimal
	SellTime            *time.Time
	SellPrice           *decimal.Decimal
}

// MonitoringRow is the projection of a snapshot for status and reports.
type MonitoringRow struct {
	SymbolName          string  `json:"symbolName"`
	SymbolCode          string  `json:"symbolCode"`
	PriceAtReference    *string `json:"priceAtReference"`
	CurrentPrice        *string `json:"currentPrice"`
	PreviousLowTime     *string `json:"previousLowTime"`
	PreviousLowPrice    *string `json:"previousLowPrice"`
	BuyTime             *string `json:"buyTime"`
	BuyPrice            *string `json:"buyPrice"`
	PreviousHighTime    *string `json:"previousHighTime"`
	PreviousHighPrice   *string `json:"previousHighPrice"`
	SellTime            *string `json:"sellTime"`
	SellPrice           *string `json:"sellPrice"`
	CurrentPriceAtClose *string `json:"currentPriceAtClose"`
}

// StartTradingResult acknowledges a start request.
type StartTradingResult struct {
	EngineState string `json:"engineState"`
	AcceptedAt  string `json:"acceptedAt"`
	TradingDate string `json:"tradingDate"`
	DryRun      bool   `json:"dryRun"`
	SafeMode    bool   `json:"safeMode"`
}

// QuoteMonitoringStatus summarises the polling worker.
type QuoteMonitoringStatus struct {
	LoopState              string `json:"loopState"`
	CyclesTotal            int    `json:"cyclesTotal"`
	LastPollCycleID        string `json:"lastPollCycleId"`
	LastCycleAt            string `json:"lastCycleAt,omitempty"`
	LastCyclePartial       bool   `json:"lastCyclePartial"`
	LastQuoteCount         int    `json:"lastQuoteCount"`
	LastErrorCount         int    `json:"lastErrorCount"`
	LastCommandCount       int    `json:"lastCommandCount"`
	LastStrategyEventCount int    `json:"lastStrategyEventCount"`
	LastCycleError         string `json:"lastCycleError,omitempty"`
}

// MonitorStatus is the read-only engine projection.
type MonitorStatus struct {
	EngineState     string                `json:"engineState"`
	Mode            string                `json:"mode"`
	WatchSymbols    []string              `json:"watchSymbols"`
	StartedAt       string                `json:"startedAt,omitempty"`
	TradingDate     string                `json:"tradingDate,omitempty"`
	DryRun          bool                  `json:"dryRun"`
	SafeMode        bool                  `json:"safeMode"`
	OpenOrders      int                   `json:"openOrders"`
	OpenPositions   int                   `json:"openPositions"`
	MonitoringRows  []MonitoringRow       `json:"monitoringRows"`
	QuoteMonitoring QuoteMonitoringStatus `json:"quoteMonitoring"`
}

// DailyReportView is the report projection with monitoring rows attached.
type DailyReportView struct {
	TradingDate     string          `json:"tradingDate"`
	TotalBuyAmount  string          `json:"totalBuyAmount"`
	TotalSellAmount string          `json:"totalSellAmount"`
	TotalSellTax    string          `json:"totalSellTax"`
	TotalSellFee    string          `json:"totalSellFee"`
	TotalNetPnl     string          `json:"totalNetPnl"`
	TotalReturnRate string          `json:"totalReturnRate"`
	GeneratedAt     string          `json:"generatedAt"`
	MonitoringRows  []MonitoringRow `json:"monitoringRows"`
}

// TradeDetailView is one FIFO-matched trade row.
type TradeDetailView struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	BuyExecutedAt  string `json:"buyExecutedAt"`
	SellExecutedAt string `json:"sellExecutedAt"`
	Quantity       int64  `json:"quantity"`
	BuyPrice       string `json:"buyPrice"`
	SellPrice      string `json:"sellPrice"`
	BuyAmount      string `json:"buyAmount"`
	SellAmount     string `json:"sellAmount"`
	SellTax        string `json:"sellTax"`
	SellFee        string `json:"sellFee"`
	NetPnl         string `json:"netPnl"`
	ReturnRate     string `json:"returnRate"`
}

// TradesReportView lists the day's matched trades.
type TradesReportView struct {
	TradingDate    string            `json:"tradingDate"`
	Count          int               `json:"count"`
	Items          []TradeDetailView `json:"items"`
	MonitoringRows []MonitoringRow   `json:"monitoringRows"`
}

// EnvelopeMeta stamps every response.
type EnvelopeMeta struct {
	Timestamp string `json:"timestamp"`
}

// ErrorInfo is the error half of the envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Source    string `json:"source"`
	Details   []any  `json:"details"`
}

// Envelope is the uniform external response shape.
type Envelope struct {
	Success   bool         `json:"success"`
	RequestID string       `json:"requestId"`
	Data      any          `json:"data,omitempty"`
	Error     *ErrorInfo   `json:"error,omitempty"`
	Meta      EnvelopeMeta `json:"meta"`
}

// NewRequestID mints a correlation id for one external request.
func NewRequestID() string {
	return "req-" + uuid.NewString()
}

func shortID(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}

// SuccessEnvelope wraps data in the success shape.
func SuccessEnvelope(requestID string, data any) Envelope {
	return Envelope{
		Success:   true,
		RequestID: requestID,
		Data:      data,
		Meta:      EnvelopeMeta{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)},
	}
}

// ErrorEnvelope wraps an error in the failure shape.
func ErrorEnvelope(requestID, code, message string, retryable bool, details []any) Envelope {
	if details == nil {
		details = []any{}
	}
	return Envelope{
		Success:   false,
		RequestID: requestID,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Source:    "UAG",
			Details:   details,
		},
		Meta: EnvelopeMeta{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)},
	}
}
