package kia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// LiveClient talks to the real broker over HTTPS. It layers the token
// provider, the retry policy, the quote pacer, and the idempotency cache
// around a resty transport.
type LiveClient struct {
	http        *resty.Client
	resolver    *EndpointResolver
	tokens      *TokenProvider
	retry       RetryPolicy
	pacer       *QuotePacer
	idempotency *IdempotencyStore
	logger      *slog.Logger
}

// LiveClientOptions tunes the live client; zero values pick defaults.
type LiveClientOptions struct {
	Timeout          time.Duration
	Retry            *RetryPolicy
	QuoteMinInterval time.Duration
	Idempotency      *IdempotencyStore
}

// NewLiveClient builds a live client over a resolver and token provider.
func NewLiveClient(resolver *EndpointResolver, tokens *TokenProvider, opts LiveClientOptions, logger *slog.Logger) *LiveClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	quoteInterval := opts.QuoteMinInterval
	if quoteInterval == 0 {
		quoteInterval = 250 * time.Millisecond
	}
	idempotency := opts.Idempotency
	if idempotency == nil {
		idempotency = NewIdempotencyStore()
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json;charset=UTF-8")

	return &LiveClient{
		http:        httpClient,
		resolver:    resolver,
		tokens:      tokens,
		retry:       retry,
		pacer:       NewQuotePacer(quoteInterval),
		idempotency: idempotency,
		logger:      logger.With("component", "kia.live"),
	}
}

// Pacer exposes the quote pacer, for tests.
func (c *LiveClient) Pacer() *QuotePacer { return c.pacer }

// Call performs one broker call with auth, retry, and idempotency handling.
func (c *LiveClient) Call(ctx context.Context, req CallRequest) (map[string]any, error) {
	if req.Service == ServiceAuth {
		return c.send(ctx, req, "")
	}

	forcedRefresh := false
	operation := func() (map[string]any, error) {
		token, err := c.tokens.GetValid(ctx, req.Mode)
		if err != nil {
			return nil, err
		}
		response, err := c.send(ctx, req, token.Token)
		if err == nil {
			if req.Service == ServiceOrder && req.IdempotencyKey != "" {
				c.idempotency.Save(req.Mode, req.IdempotencyKey, response)
			}
			return response, nil
		}

		kerr := AsError(err)
		if kerr != nil && kerr.Code == CodeAuthTokenExpired && !forcedRefresh {
			// One forced refresh per operation; a second 401 surfaces.
			forcedRefresh = true
			c.tokens.Invalidate(req.Mode)
			refreshed, rerr := c.tokens.ForceRefresh(ctx, req.Mode)
			if rerr != nil {
				return nil, rerr
			}
			return c.send(ctx, req, refreshed.Token)
		}
		if req.Service == ServiceOrder && kerr != nil && kerr.Code == CodeAPITimeout {
			if cached := c.idempotency.Find(req.Mode, req.IdempotencyKey); cached != nil {
				c.logger.Warn("order timeout, returning idempotent cached response",
					"client_order_id", req.IdempotencyKey)
				return cached, nil
			}
		}
		return nil, err
	}

	retry := c.retry
	if req.RetryAttempts > 0 {
		retry.Attempts = req.RetryAttempts
	}
	return retry.Execute(ctx, operation, func(err error, _ int) bool {
		kerr := AsError(err)
		if kerr == nil || !kerr.Retryable {
			return false
		}
		if kerr.Code == CodeAuthTokenExpired {
			return false
		}
		if req.Service == ServiceOrder && kerr.Code == CodeAPITimeout {
			return false
		}
		return true
	})
}

// FetchQuotesBatchRaw polls each symbol once (no backoff), with exactly one
// manual resubmit on a timeout or rate-limit failure. Per-symbol failures
// are aggregated; the batch itself never errors.
func (c *LiveClient) FetchQuotesBatchRaw(ctx context.Context, mode Mode, symbols []string, timeoutMs int, pollCycleID string) (map[string]any, error) {
	var quotes []any
	var errs []any

	fetchOne := func(symbol string) (map[string]any, error) {
		return c.Call(ctx, CallRequest{
			Service:       ServiceQuote,
			Mode:          mode,
			Payload:       map[string]any{"stk_cd": symbol},
			APIID:         APIIDQuote,
			RetryAttempts: 1,
		})
	}

	for _, symbol := range symbols {
		quote, err := fetchOne(symbol)
		if err != nil {
			code := ErrorCode(err)
			if code == CodeAPITimeout || code == CodeRateLimited {
				quote, err = fetchOne(symbol)
			}
		}
		if err != nil {
			errs = append(errs, map[string]any{
				"symbol":    symbol,
				"code":      ErrorCode(err),
				"retryable": IsRetryable(err),
			})
			continue
		}
		quotes = append(quotes, quote)
	}

	return map[string]any{
		"poll_cycle_id": pollCycleID,
		"timeout_ms":    timeoutMs,
		"quotes":        quotes,
		"errors":        errs,
		"partial":       len(errs) > 0,
	}, nil
}

func (c *LiveClient) send(ctx context.Context, req CallRequest, token string) (map[string]any, error) {
	if req.Service == ServiceQuote {
		if err := c.pacer.WaitQuote(ctx); err != nil {
			return nil, err
		}
	} else {
		release := c.pacer.Acquire()
		defer release()
	}

	endpoint, err := c.resolver.Resolve(req.Mode, req.Service)
	if err != nil {
		return nil, err
	}

	contYn := req.ContYn
	if contYn == "" {
		contYn = "N"
	}
	r := c.http.R().
		SetContext(ctx).
		SetHeader("cont-yn", contYn).
		SetHeader("next-key", req.NextKey)
	if token != "" {
		r.SetHeader("authorization", "Bearer "+token)
	}
	if req.APIID != "" {
		r.SetHeader("api-id", req.APIID)
	}
	if req.IdempotencyKey != "" {
		r.SetHeader("X-Idempotency-Key", req.IdempotencyKey)
	}
	if req.Query != nil {
		r.SetQueryParams(req.Query)
	}
	if req.Payload != nil {
		r.SetBody(req.Payload)
	}

	resp, err := r.Execute(endpoint.Method, endpoint.BaseURL+endpoint.Path)
	if err != nil {
		return nil, MapTransportError(err)
	}

	body := resp.Body()
	var decoded map[string]any
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &decoded); jerr != nil {
			if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
				return nil, NewResponseInvalidError(jerr)
			}
			decoded = map[string]any{"raw": string(body)}
		}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, MapHTTPStatus(resp.StatusCode(), decoded)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

// NewLiveTokenIssuer returns the token issuer for the live client: it posts
// the stored credentials to the oauth route and wraps the answer in an
// AccessToken with the 60s refresh lead.
func NewLiveTokenIssuer(client *LiveClient, resolver *EndpointResolver) TokenIssuer {
	return func(ctx context.Context, mode Mode) (*AccessToken, error) {
		response, err := client.Call(ctx, CallRequest{
			Service: ServiceAuth,
			Mode:    mode,
			Payload: resolver.AuthPayload(),
		})
		if err != nil {
			return nil, err
		}
		token := stringField(response, "token")
		if token == "" {
			token = stringField(response, "access_token")
		}
		if token == "" {
			return nil, NewResponseInvalidError(fmt.Errorf("auth response missing token"))
		}
		expiresIn := int64Field(response, "expires_in", 3600)
		return NewAccessToken(token, time.Duration(expiresIn)*time.Second, mode, time.Now().UTC()), nil
	}
}
