package kia

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

// captureClient records the last call and replies with a canned payload.
type captureClient struct {
	lastCall CallRequest
	response map[string]any
	batch    map[string]any
}

func (c *captureClient) Call(_ context.Context, req CallRequest) (map[string]any, error) {
	c.lastCall = req
	return c.response, nil
}

func (c *captureClient) FetchQuotesBatchRaw(_ context.Context, _ Mode, _ []string, timeoutMs int, pollCycleID string) (map[string]any, error) {
	if c.batch != nil {
		return c.batch, nil
	}
	return map[string]any{"poll_cycle_id": pollCycleID, "timeout_ms": timeoutMs, "quotes": []any{}, "errors": []any{}, "partial": false}, nil
}

func TestGatewayQuoteNormalisesNegativePrice(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{
		"symbol":  "005930",
		"cur_prc": "-70000",
		"stk_nm":  "삼성전자",
		"as_of":   "2026-02-17T09:03:00+09:00",
	}}
	gateway := NewGateway(client, slog.Default())

	quote, err := gateway.FetchQuote(context.Background(), ModeMock, "005930")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(70000)) {
		t.Fatalf("price must be absolute, got %s", quote.Price)
	}
	if quote.SymbolName != "삼성전자" {
		t.Fatalf("name priority should pick stk_nm, got %q", quote.SymbolName)
	}
}

func TestGatewayQuoteNamePriority(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{
		"cur_prc":      "70000",
		"hts_kor_isnm": "후순위이름",
		"symbol_name":  "우선이름",
	}}
	gateway := NewGateway(client, slog.Default())

	quote, err := gateway.FetchQuote(context.Background(), ModeMock, "005930")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote.SymbolName != "우선이름" {
		t.Fatalf("symbol_name outranks hts_kor_isnm, got %q", quote.SymbolName)
	}
	if quote.Symbol != "005930" {
		t.Fatalf("missing symbol falls back to the request, got %q", quote.Symbol)
	}
}

func TestGatewayBatchValidation(t *testing.T) {
	t.Parallel()

	gateway := NewGateway(&captureClient{}, slog.Default())

	_, err := gateway.FetchQuotesBatch(context.Background(), ModeMock, nil, 1000, "poll-1")
	if ErrorCode(err) != CodeInvalidRequest {
		t.Fatalf("empty symbols must be rejected, got %v", err)
	}

	many := make([]string, 21)
	for i := range many {
		many[i] = "005930"
	}
	_, err = gateway.FetchQuotesBatch(context.Background(), ModeMock, many, 1000, "poll-1")
	if ErrorCode(err) != CodeInvalidRequest {
		t.Fatalf("21 symbols must be rejected, got %v", err)
	}

	_, err = gateway.FetchQuotesBatch(context.Background(), ModeMock, []string{"005930"}, 1000, "  ")
	if ErrorCode(err) != CodeInvalidRequest {
		t.Fatalf("blank cycle id must be rejected, got %v", err)
	}
}

func TestGatewaySubmitOrderWireMapping(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{
		"ord_no":          "B-1001",
		"client_order_id": "coid-1",
		"status":          "ACCEPTED",
		"accepted_at":     "2026-02-17T09:05:00+09:00",
	}}
	gateway := NewGateway(client, slog.Default())

	price := decimal.NewFromInt(69900)
	result, err := gateway.SubmitOrder(context.Background(), SubmitOrderRequest{
		Mode:          ModeLive,
		Symbol:        "005930",
		Side:          "SELL",
		OrderType:     "LIMIT",
		Price:         &price,
		Quantity:      3,
		ClientOrderID: "coid-1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.BrokerOrderID != "B-1001" || result.Status != "ACCEPTED" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.AcceptedAt == nil {
		t.Fatal("accepted_at should be parsed")
	}

	call := client.lastCall
	if call.APIID != APIIDOrderSell {
		t.Fatalf("SELL must use %s, got %s", APIIDOrderSell, call.APIID)
	}
	if call.IdempotencyKey != "coid-1" {
		t.Fatalf("client order id must ride the idempotency header, got %q", call.IdempotencyKey)
	}
	payload := call.Payload
	if payload["dmst_stex_tp"] != "KRX" || payload["trde_tp"] != "0" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["ord_uv"] != "69900" || payload["ord_qty"] != "3" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestGatewaySubmitOrderMarketMapping(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{"status": "ACCEPTED"}}
	gateway := NewGateway(client, slog.Default())

	_, err := gateway.SubmitOrder(context.Background(), SubmitOrderRequest{
		Mode:          ModeMock,
		Symbol:        "005930",
		Side:          "BUY",
		OrderType:     "MARKET",
		Quantity:      1,
		ClientOrderID: "coid-2",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if client.lastCall.APIID != APIIDOrderBuy {
		t.Fatalf("BUY must use %s", APIIDOrderBuy)
	}
	if client.lastCall.Payload["trde_tp"] != "3" || client.lastCall.Payload["ord_uv"] != "" {
		t.Fatalf("market order maps to trde_tp=3 with empty ord_uv, got %v", client.lastCall.Payload)
	}
}

func TestGatewayFetchReferencePricePicksLatestInMinute(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{
		"stk_min_pole_chart_qry": []any{
			map[string]any{"cntr_tm": "20260217090259", "cur_prc": "69000"},
			map[string]any{"cntr_tm": "20260217090310", "cur_prc": "-70100"},
			map[string]any{"cntr_tm": "20260217090345", "cur_prc": "70250"},
			map[string]any{"cntr_tm": "20260217090401", "cur_prc": "70300"},
		},
	}}
	gateway := NewGateway(client, slog.Default())

	price, found, err := gateway.FetchReferencePrice(context.Background(), ModeMock, "005930", "20260217", "0903")
	if err != nil {
		t.Fatalf("FetchReferencePrice: %v", err)
	}
	if !found {
		t.Fatal("expected a reference price")
	}
	if !price.Equal(decimal.RequireFromString("70250")) {
		t.Fatalf("latest 09:03 row wins, got %s", price)
	}
	if client.lastCall.APIID != APIIDMinuteChart {
		t.Fatalf("minute chart must use %s", APIIDMinuteChart)
	}
}

func TestGatewayFetchReferencePriceNoQualifyingRow(t *testing.T) {
	t.Parallel()

	client := &captureClient{response: map[string]any{
		"stk_min_pole_chart_qry": []any{
			map[string]any{"cntr_tm": "20260217090259", "cur_prc": "69000"},
		},
	}}
	gateway := NewGateway(client, slog.Default())

	_, found, err := gateway.FetchReferencePrice(context.Background(), ModeMock, "005930", "20260217", "0903")
	if err != nil {
		t.Fatalf("FetchReferencePrice: %v", err)
	}
	if found {
		t.Fatal("no row inside the reference minute, found must be false")
	}
}
