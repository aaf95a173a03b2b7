package kia

import (
	"context"
	"sync"
	"time"
)

// TokenIssuer obtains a fresh token for a mode from the auth endpoint.
type TokenIssuer func(ctx context.Context, mode Mode) (*AccessToken, error)

// TokenProvider caches one access token per mode. A token is served from
// cache while now < RefreshAt; refresh uses double-checked locking so
// concurrent callers trigger at most one issue per mode.
type TokenProvider struct {
	issuer TokenIssuer
	now    func() time.Time

	mu    sync.Mutex
	locks map[Mode]*sync.Mutex
	cache map[Mode]*AccessToken
}

// NewTokenProvider builds a provider over an issuer.
func NewTokenProvider(issuer TokenIssuer) *TokenProvider {
	return &TokenProvider{
		issuer: issuer,
		now:    time.Now,
		locks: map[Mode]*sync.Mutex{
			ModeMock: {},
			ModeLive: {},
		},
		cache: make(map[Mode]*AccessToken),
	}
}

// SetNowFunc overrides the clock, for tests.
func (p *TokenProvider) SetNowFunc(now func() time.Time) { p.now = now }

func (p *TokenProvider) cached(mode Mode) *AccessToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache[mode]
}

func (p *TokenProvider) store(mode Mode, token *AccessToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[mode] = token
}

// GetValid returns the cached token while it is fresh, refreshing otherwise.
func (p *TokenProvider) GetValid(ctx context.Context, mode Mode) (*AccessToken, error) {
	if token := p.cached(mode); token != nil && p.now().Before(token.RefreshAt) {
		return token, nil
	}

	lock := p.locks[mode]
	lock.Lock()
	defer lock.Unlock()

	if token := p.cached(mode); token != nil && p.now().Before(token.RefreshAt) {
		return token, nil
	}
	token, err := p.issuer(ctx, mode)
	if err != nil {
		return nil, err
	}
	p.store(mode, token)
	return token, nil
}

// ForceRefresh bypasses the cache and issues a new token.
func (p *TokenProvider) ForceRefresh(ctx context.Context, mode Mode) (*AccessToken, error) {
	lock := p.locks[mode]
	lock.Lock()
	defer lock.Unlock()

	token, err := p.issuer(ctx, mode)
	if err != nil {
		return nil, err
	}
	p.store(mode, token)
	return token, nil
}

// Invalidate drops the cached token for a mode.
func (p *TokenProvider) Invalidate(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, mode)
}

// NewAccessToken builds a token whose refresh point leads expiry by 60s.
func NewAccessToken(token string, expiresIn time.Duration, mode Mode, now time.Time) *AccessToken {
	refreshIn := expiresIn - time.Minute
	if refreshIn < 0 {
		refreshIn = 0
	}
	return &AccessToken{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(expiresIn),
		RefreshAt: now.Add(refreshIn),
		Mode:      mode,
	}
}
