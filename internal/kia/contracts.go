// Package kia is the Kiwoom broker gateway: a REST client with per-mode
// token management, order idempotency, retry with backoff, quote pacing,
// and a typed mapping layer over the broker's loose JSON payloads.
package kia

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the broker environment.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// ServiceType names a broker route.
type ServiceType string

const (
	ServiceAuth      ServiceType = "auth"
	ServiceQuote     ServiceType = "quote"
	ServiceChart     ServiceType = "chart"
	ServiceOrder     ServiceType = "order"
	ServiceExecution ServiceType = "execution"
)

// CallRequest is one raw broker call. Payload and Query may be nil.
type CallRequest struct {
	Service        ServiceType
	Mode           Mode
	Payload        map[string]any
	APIID          string
	ContYn         string // continuation flag, defaults to "N"
	NextKey        string
	IdempotencyKey string
	Query          map[string]string
	// RetryAttempts overrides the client's attempt count when > 0.
	RetryAttempts int
}

// RawClient is the untyped broker client: mock, live, or the routing facade.
type RawClient interface {
	Call(ctx context.Context, req CallRequest) (map[string]any, error)
	FetchQuotesBatchRaw(ctx context.Context, mode Mode, symbols []string, timeoutMs int, pollCycleID string) (map[string]any, error)
}

// AccessToken is a cached bearer token for one mode. RefreshAt leads
// ExpiresAt by 60 seconds so the token is renewed before it lapses.
type AccessToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RefreshAt time.Time
	Mode      Mode
}

// MarketQuote is one normalised quote.
type MarketQuote struct {
	Symbol     string
	SymbolName string
	Price      decimal.Decimal
	TickSize   int
	AsOf       time.Time
}

// PollQuoteError is a per-symbol failure inside a batch poll.
type PollQuoteError struct {
	Symbol    string
	Code      string
	Retryable bool
}

// PollQuotesResult carries one cycle's quotes plus per-symbol failures.
// Partial is true when any symbol failed; the cycle as a whole never errors.
type PollQuotesResult struct {
	PollCycleID string
	Quotes      []MarketQuote
	Errors      []PollQuoteError
	Partial     bool
}

// SubmitOrderRequest is a typed order submit.
type SubmitOrderRequest struct {
	Mode          Mode
	AccountNo     string
	Symbol        string
	Side          string // BUY | SELL
	OrderType     string // LIMIT | MARKET
	Price         *decimal.Decimal
	Quantity      int64
	ClientOrderID string
}

// OrderResult is the broker's answer to an order submit.
type OrderResult struct {
	BrokerOrderID string
	ClientOrderID string
	Status        string // ACCEPTED | REJECTED | PENDING
	AcceptedAt    *time.Time
}

// ExecutionFill is one broker fill.
type ExecutionFill struct {
	ExecutionID string
	Price       decimal.Decimal
	Quantity    int64
	ExecutedAt  time.Time
}

// ExecutionResult carries an order's fills and its broker-side remainder.
type ExecutionResult struct {
	BrokerOrderID string
	Fills         []ExecutionFill
	RemainingQty  int64
}

// BrokerPosition is one row of the broker's position view.
type BrokerPosition struct {
	AccountNo   string
	Symbol      string
	Quantity    int64
	AvgBuyPrice decimal.Decimal
}
