package kia

import (
	"context"
	"time"
)

// MockClient returns deterministic synthetic payloads shaped like the real
// broker's responses. It backs mock mode and live mode without credentials.
type MockClient struct{}

// NewMockClient builds a mock client.
func NewMockClient() *MockClient { return &MockClient{} }

const mockReturnMsg = "정상적으로 처리되었습니다"

// Call dispatches to the deterministic payload for the requested service.
func (c *MockClient) Call(_ context.Context, req CallRequest) (map[string]any, error) {
	switch req.Service {
	case ServiceAuth:
		return map[string]any{"access_token": "mock-token", "expires_in": 3600}, nil
	case ServiceQuote:
		symbol := stringField(req.Payload, "stk_cd")
		if symbol == "" {
			symbol = "UNKNOWN"
		}
		return c.quotePayload(symbol), nil
	case ServiceChart:
		symbol := stringField(req.Payload, "stk_cd")
		baseDt := stringField(req.Payload, "base_dt")
		if baseDt == "" {
			baseDt = time.Now().UTC().Format("20060102")
		}
		return map[string]any{
			"stk_cd": symbol,
			"stk_min_pole_chart_qry": []any{
				map[string]any{
					"cur_prc": "70000",
					"cntr_tm": baseDt + "090300",
				},
			},
			"return_code": 0,
			"return_msg":  mockReturnMsg,
		}, nil
	case ServiceOrder:
		clientOrderID := req.IdempotencyKey
		if clientOrderID == "" {
			clientOrderID = "mock-order"
		}
		return map[string]any{
			"broker_order_id": "mock-" + clientOrderID,
			"ord_no":          "mock-" + clientOrderID,
			"client_order_id": clientOrderID,
			"status":          "ACCEPTED",
			"accepted_at":     time.Now().UTC().Format(time.RFC3339Nano),
			"return_code":     0,
			"return_msg":      mockReturnMsg,
		}, nil
	case ServiceExecution:
		brokerOrderID, hasOrder := req.Query["brokerOrderId"]
		if !hasOrder || brokerOrderID == "" {
			// Position view: same route, no order id in the query.
			return map[string]any{
				"positions": []any{
					map[string]any{
						"account_no":    orDefault(req.Query["accountNo"], "MOCK-ACCOUNT"),
						"symbol":        orDefault(req.Query["symbol"], "005930"),
						"quantity":      0,
						"avg_buy_price": "0",
					},
				},
			}, nil
		}
		return map[string]any{
			"broker_order_id": brokerOrderID,
			"fills": []any{
				map[string]any{
					"execution_id": "exe-" + brokerOrderID,
					"price":        "70000",
					"quantity":     1,
					"executed_at":  time.Now().UTC().Format(time.RFC3339Nano),
				},
			},
			"remaining_qty": 0,
			"account_no":    orDefault(req.Query["accountNo"], "MOCK-ACCOUNT"),
		}, nil
	default:
		return nil, MapHTTPStatus(500, map[string]any{"service_type": string(req.Service)})
	}
}

// FetchQuotesBatchRaw fabricates one quote per symbol, never failing.
func (c *MockClient) FetchQuotesBatchRaw(_ context.Context, _ Mode, symbols []string, timeoutMs int, pollCycleID string) (map[string]any, error) {
	quotes := make([]any, 0, len(symbols))
	for _, symbol := range symbols {
		quotes = append(quotes, c.quotePayload(symbol))
	}
	return map[string]any{
		"poll_cycle_id": pollCycleID,
		"timeout_ms":    timeoutMs,
		"quotes":        quotes,
		"errors":        []any{},
		"partial":       false,
	}, nil
}

func (c *MockClient) quotePayload(symbol string) map[string]any {
	return map[string]any{
		"symbol":      symbol,
		"cur_prc":     "70000",
		"sel_fpr_bid": "70000",
		"buy_fpr_bid": "69900",
		"price":       "70000",
		"tick_size":   1,
		"as_of":       time.Now().UTC().Format(time.RFC3339Nano),
		"return_code": 0,
		"return_msg":  mockReturnMsg,
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
