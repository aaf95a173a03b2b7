package kia

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy applies exponential backoff with full jitter:
// delay = min(base * 2^(attempt-1), max) + U(0, 0.1s).
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	sleep func(context.Context, time.Duration) error
	randf func() float64
}

// DefaultRetryPolicy matches the broker guidance: 3 attempts, 0.2s base,
// 2s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// SetSleepFunc overrides the backoff sleep, for tests.
func (p *RetryPolicy) SetSleepFunc(sleep func(context.Context, time.Duration) error) { p.sleep = sleep }

// SetRandFunc overrides the jitter source, for tests.
func (p *RetryPolicy) SetRandFunc(randf func() float64) { p.randf = randf }

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op up to Attempts times, sleeping between tries while
// shouldRetry approves the failure.
func (p RetryPolicy) Execute(
	ctx context.Context,
	op func() (map[string]any, error),
	shouldRetry func(err error, attempt int) bool,
) (map[string]any, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = ctxSleep
	}
	randf := p.randf
	if randf == nil {
		randf = rand.Float64
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt >= attempts || !shouldRetry(err, attempt) {
			return nil, err
		}

		delay := p.BaseDelay << (attempt - 1)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		jitter := time.Duration(randf() * float64(100*time.Millisecond))
		if err := sleep(ctx, delay+jitter); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
