package kia

import (
	"context"
	"sync"
	"time"
)

// QuotePacer serialises outbound quote calls so consecutive sends are at
// least minInterval apart on the monotonic clock. Non-quote requests take
// the same mutex for the duration of their send, so an in-flight order
// briefly displaces the next quote but not vice versa.
type QuotePacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSentAt  time.Time
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// NewQuotePacer builds a pacer; a non-positive interval disables pacing.
func NewQuotePacer(minInterval time.Duration) *QuotePacer {
	if minInterval < 0 {
		minInterval = 0
	}
	return &QuotePacer{minInterval: minInterval, now: time.Now, sleep: ctxSleep}
}

// SetClock overrides the monotonic clock and sleep, for tests.
func (p *QuotePacer) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	p.now = now
	p.sleep = sleep
}

// WaitQuote blocks until the next quote may be sent, then stamps it.
func (p *QuotePacer) WaitQuote(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.minInterval <= 0 {
		return nil
	}
	now := p.now()
	if !p.lastSentAt.IsZero() {
		if remaining := p.minInterval - now.Sub(p.lastSentAt); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
			now = p.now()
		}
	}
	p.lastSentAt = now
	return nil
}

// Acquire takes the pacer mutex for a non-quote send; the returned release
// must be called when the send completes.
func (p *QuotePacer) Acquire() (release func()) {
	p.mu.Lock()
	return p.mu.Unlock
}
