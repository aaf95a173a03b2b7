package kia

import (
	"context"
	"testing"
	"time"
)

func TestRetryPolicyBackoffDelays(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	policy.Attempts = 4
	policy.SetRandFunc(func() float64 { return 0 })
	var delays []time.Duration
	policy.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	calls := 0
	_, err := policy.Execute(context.Background(), func() (map[string]any, error) {
		calls++
		return nil, NewError(CodeUpstreamUnavailable, "down", true, nil)
	}, func(err error, _ int) bool { return IsRetryable(err) })

	if err == nil {
		t.Fatal("expected final error")
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	// min(0.2*2^(n-1), 2.0): 0.2, 0.4, 0.8
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(delays))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("delay %d: want %v, got %v", i, want[i], d)
		}
	}
}

func TestRetryPolicyDelayCap(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	policy.Attempts = 6
	policy.SetRandFunc(func() float64 { return 0 })
	var delays []time.Duration
	policy.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	policy.Execute(context.Background(), func() (map[string]any, error) {
		return nil, NewError(CodeRateLimited, "slow down", true, nil)
	}, func(err error, _ int) bool { return true })

	last := delays[len(delays)-1]
	if last != 2*time.Second {
		t.Fatalf("delay must cap at 2s, got %v", last)
	}
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	policy.SetSleepFunc(func(_ context.Context, _ time.Duration) error { return nil })

	calls := 0
	_, err := policy.Execute(context.Background(), func() (map[string]any, error) {
		calls++
		return nil, NewError(CodeAuthForbidden, "no", false, nil)
	}, func(err error, _ int) bool { return IsRetryable(err) })

	if calls != 1 {
		t.Fatalf("non-retryable error must not retry, got %d calls", calls)
	}
	if ErrorCode(err) != CodeAuthForbidden {
		t.Fatalf("unexpected code %s", ErrorCode(err))
	}
}

func TestRetryPolicySucceedsMidway(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	policy.SetSleepFunc(func(_ context.Context, _ time.Duration) error { return nil })

	calls := 0
	result, err := policy.Execute(context.Background(), func() (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, NewError(CodeAPITimeout, "timeout", true, nil)
		}
		return map[string]any{"ok": true}, nil
	}, func(err error, _ int) bool { return IsRetryable(err) })

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["ok"] != true || calls != 3 {
		t.Fatalf("expected success on attempt 3, got calls=%d", calls)
	}
}
