package kia

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// quoteNameKeys is the priority list of broker fields that may carry the
// symbol name.
var quoteNameKeys = []string{
	"symbol_name", "name", "stk_nm", "hts_kor_isnm", "prdt_abrv_name", "isu_nm",
}

// Gateway maps the broker's loose payloads to typed domain values. It is a
// thin layer: validation, field priority, sign normalisation, nothing more.
type Gateway struct {
	client RawClient
	logger *slog.Logger
}

// NewGateway wraps a raw client.
func NewGateway(client RawClient, logger *slog.Logger) *Gateway {
	return &Gateway{client: client, logger: logger.With("component", "kia.gateway")}
}

// normalizePrice takes the absolute value of a broker price. The broker
// encodes direction as a leading sign, so '-70000' means 70000 trading down.
func (g *Gateway) normalizePrice(symbol string, price decimal.Decimal) decimal.Decimal {
	if price.IsNegative() {
		g.logger.Warn("negative-prefixed broker price normalised", "symbol", symbol, "raw", price.String())
		return price.Abs()
	}
	return price
}

func (g *Gateway) mapQuote(payload map[string]any, fallbackSymbol string) MarketQuote {
	symbol := firstString(payload, "symbol", "stk_cd")
	if symbol == "" {
		symbol = fallbackSymbol
	}
	price := decimalField(payload, "cur_prc")
	if price.IsZero() {
		price = decimalField(payload, "price")
	}
	tickSize := int(int64Field(payload, "tick_size", 1))

	return MarketQuote{
		Symbol:     symbol,
		SymbolName: firstString(payload, quoteNameKeys...),
		Price:      g.normalizePrice(symbol, price),
		TickSize:   tickSize,
		AsOf:       parseTimeLenient(stringField(payload, "as_of")),
	}
}

// FetchQuote fetches and normalises one quote.
func (g *Gateway) FetchQuote(ctx context.Context, mode Mode, symbol string) (MarketQuote, error) {
	raw, err := g.client.Call(ctx, CallRequest{
		Service: ServiceQuote,
		Mode:    mode,
		Payload: map[string]any{"stk_cd": symbol},
		APIID:   APIIDQuote,
	})
	if err != nil {
		return MarketQuote{}, err
	}
	return g.mapQuote(raw, symbol), nil
}

// FetchQuotesBatch polls the watch list for one cycle. The symbol list must
// hold 1..20 entries and the cycle id must be non-empty.
func (g *Gateway) FetchQuotesBatch(ctx context.Context, mode Mode, symbols []string, timeoutMs int, pollCycleID string) (PollQuotesResult, error) {
	if len(symbols) < 1 || len(symbols) > 20 {
		return PollQuotesResult{}, NewError(CodeInvalidRequest,
			fmt.Sprintf("symbols must hold 1..20 entries, got %d", len(symbols)), false, nil)
	}
	if strings.TrimSpace(pollCycleID) == "" {
		return PollQuotesResult{}, NewError(CodeInvalidRequest, "poll cycle id must not be empty", false, nil)
	}

	raw, err := g.client.FetchQuotesBatchRaw(ctx, mode, symbols, timeoutMs, pollCycleID)
	if err != nil {
		return PollQuotesResult{}, err
	}

	result := PollQuotesResult{PollCycleID: pollCycleID}
	if id := stringField(raw, "poll_cycle_id"); id != "" {
		result.PollCycleID = id
	}
	for _, item := range listField(raw, "quotes") {
		result.Quotes = append(result.Quotes, g.mapQuote(item, ""))
	}
	for _, item := range listField(raw, "errors") {
		code := stringField(item, "code")
		if code == "" {
			code = CodeUnknown
		}
		result.Errors = append(result.Errors, PollQuoteError{
			Symbol:    stringField(item, "symbol"),
			Code:      code,
			Retryable: boolField(item, "retryable"),
		})
	}
	result.Partial = boolField(raw, "partial") || len(result.Errors) > 0
	return result, nil
}

// SubmitOrder maps a typed order onto the broker's wire shape and submits
// it under the client order id as the idempotency key.
func (g *Gateway) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (OrderResult, error) {
	tradeType := "0"
	if req.OrderType == "MARKET" {
		tradeType = "3"
	}
	apiID := APIIDOrderBuy
	if req.Side == "SELL" {
		apiID = APIIDOrderSell
	}
	orderPrice := ""
	if req.Price != nil {
		orderPrice = req.Price.String()
	}
	payload := map[string]any{
		"dmst_stex_tp": "KRX",
		"stk_cd":       req.Symbol,
		"ord_qty":      fmt.Sprintf("%d", req.Quantity),
		"ord_uv":       orderPrice,
		"trde_tp":      tradeType,
		"cond_uv":      "",
	}

	raw, err := g.client.Call(ctx, CallRequest{
		Service:        ServiceOrder,
		Mode:           req.Mode,
		Payload:        payload,
		APIID:          apiID,
		IdempotencyKey: req.ClientOrderID,
	})
	if err != nil {
		return OrderResult{}, err
	}

	result := OrderResult{
		BrokerOrderID: firstString(raw, "ord_no", "broker_order_id"),
		ClientOrderID: stringField(raw, "client_order_id"),
		Status:        stringField(raw, "status"),
	}
	if result.ClientOrderID == "" {
		result.ClientOrderID = req.ClientOrderID
	}
	if result.Status == "" {
		result.Status = "PENDING"
	}
	if acceptedAt := stringField(raw, "accepted_at"); acceptedAt != "" {
		t := parseTimeLenient(acceptedAt)
		result.AcceptedAt = &t
	}
	return result, nil
}

// FetchExecution fetches an order's fills and broker-side remainder.
func (g *Gateway) FetchExecution(ctx context.Context, mode Mode, accountNo, brokerOrderID string) (ExecutionResult, error) {
	raw, err := g.client.Call(ctx, CallRequest{
		Service: ServiceExecution,
		Mode:    mode,
		Query:   map[string]string{"accountNo": accountNo, "brokerOrderId": brokerOrderID},
	})
	if err != nil {
		return ExecutionResult{}, err
	}

	result := ExecutionResult{
		BrokerOrderID: stringField(raw, "broker_order_id"),
		RemainingQty:  int64Field(raw, "remaining_qty", 0),
	}
	if result.BrokerOrderID == "" {
		result.BrokerOrderID = brokerOrderID
	}
	for _, item := range listField(raw, "fills") {
		result.Fills = append(result.Fills, ExecutionFill{
			ExecutionID: stringField(item, "execution_id"),
			Price:       g.normalizePrice(result.BrokerOrderID, decimalField(item, "price")),
			Quantity:    int64Field(item, "quantity", 0),
			ExecutedAt:  parseTimeLenient(stringField(item, "executed_at")),
		})
	}
	return result, nil
}

// FetchPositions fetches the broker's position rows for an account.
func (g *Gateway) FetchPositions(ctx context.Context, mode Mode, accountNo, symbol string) ([]BrokerPosition, error) {
	query := map[string]string{"accountNo": accountNo}
	if symbol != "" {
		query["symbol"] = symbol
	}
	raw, err := g.client.Call(ctx, CallRequest{
		Service: ServiceExecution,
		Mode:    mode,
		Query:   query,
	})
	if err != nil {
		return nil, err
	}

	var positions []BrokerPosition
	for _, item := range listField(raw, "positions") {
		row := BrokerPosition{
			AccountNo:   stringField(item, "account_no"),
			Symbol:      stringField(item, "symbol"),
			Quantity:    int64Field(item, "quantity", 0),
			AvgBuyPrice: decimalField(item, "avg_buy_price"),
		}
		if row.AccountNo == "" {
			row.AccountNo = accountNo
		}
		positions = append(positions, row)
	}
	return positions, nil
}

// FetchReferencePrice queries the minute chart for tradingDate (YYYYMMDD)
// and returns the latest row inside the reference minute (HHMM), absolute
// value. The second return is false when no row qualifies.
func (g *Gateway) FetchReferencePrice(ctx context.Context, mode Mode, symbol, tradingDate, referenceMinute string) (decimal.Decimal, bool, error) {
	raw, err := g.client.Call(ctx, CallRequest{
		Service: ServiceChart,
		Mode:    mode,
		Payload: map[string]any{
			"stk_cd":       symbol,
			"tic_scope":    "1",
			"upd_stkpc_tp": "1",
			"base_dt":      tradingDate,
		},
		APIID: APIIDMinuteChart,
	})
	if err != nil {
		return decimal.Zero, false, err
	}

	var bestTime string
	var bestPrice decimal.Decimal
	found := false
	for _, row := range listField(raw, "stk_min_pole_chart_qry") {
		stamp := digitsOnly(stringField(row, "cntr_tm"))
		if len(stamp) < 6 {
			continue
		}
		hhmmss := stamp[len(stamp)-6:]
		if !strings.HasPrefix(hhmmss, referenceMinute) {
			continue
		}
		if !found || hhmmss > bestTime {
			bestTime = hhmmss
			bestPrice = decimalField(row, "cur_prc").Abs()
			found = true
		}
	}
	return bestPrice, found, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
