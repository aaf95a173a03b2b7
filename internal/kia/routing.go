package kia

import (
	"context"
	"log/slog"
	"sync"
)

// RoutingClient picks between the mock and live clients per call. Mode
// comes from the request or, when unset, from the stored settings; live
// mode without stored credentials falls through to the mock client. A mode
// change invalidates the previous mode's cached token.
type RoutingClient struct {
	resolver *EndpointResolver
	tokens   *TokenProvider
	mock     *MockClient
	live     *LiveClient
	logger   *slog.Logger

	mu       sync.Mutex
	lastMode Mode
	hasLast  bool
}

// NewRoutingClient wires the routing facade over a config source.
func NewRoutingClient(source ConfigSource, opts LiveClientOptions, logger *slog.Logger) *RoutingClient {
	resolver := NewEndpointResolver(source)
	tokens := NewTokenProvider(nil)
	live := NewLiveClient(resolver, tokens, opts, logger)
	tokens.issuer = NewLiveTokenIssuer(live, resolver)

	return &RoutingClient{
		resolver: resolver,
		tokens:   tokens,
		mock:     NewMockClient(),
		live:     live,
		logger:   logger.With("component", "kia.routing"),
	}
}

// TokenProvider exposes the per-mode token cache, for tests.
func (c *RoutingClient) TokenProvider() *TokenProvider { return c.tokens }

// Resolver exposes the endpoint resolver.
func (c *RoutingClient) Resolver() *EndpointResolver { return c.resolver }

// Call routes one raw broker call.
func (c *RoutingClient) Call(ctx context.Context, req CallRequest) (map[string]any, error) {
	mode := c.resolveMode(req.Mode)
	req.Mode = mode
	return c.selectClient(mode).Call(ctx, req)
}

// FetchQuotesBatchRaw routes a batch quote poll.
func (c *RoutingClient) FetchQuotesBatchRaw(ctx context.Context, mode Mode, symbols []string, timeoutMs int, pollCycleID string) (map[string]any, error) {
	resolved := c.resolveMode(mode)
	return c.selectClient(resolved).FetchQuotesBatchRaw(ctx, resolved, symbols, timeoutMs, pollCycleID)
}

func (c *RoutingClient) resolveMode(mode Mode) Mode {
	selected := mode
	if selected != ModeMock && selected != ModeLive {
		selected = c.resolver.ConfiguredMode()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasLast && c.lastMode != selected {
		c.logger.Info("mode switched, dropping previous token", "from", c.lastMode, "to", selected)
		c.tokens.Invalidate(c.lastMode)
	}
	c.lastMode = selected
	c.hasLast = true
	return selected
}

func (c *RoutingClient) selectClient(mode Mode) RawClient {
	if mode == ModeMock {
		return c.mock
	}
	if !c.resolver.HasLiveCredentials() {
		c.logger.Warn("live mode without credentials, using mock client")
		return c.mock
	}
	return c.live
}
