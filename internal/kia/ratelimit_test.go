package kia

import (
	"context"
	"testing"
	"time"
)

func TestQuotePacerEnforcesMinInterval(t *testing.T) {
	t.Parallel()

	pacer := NewQuotePacer(250 * time.Millisecond)
	clock := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	var slept []time.Duration
	pacer.SetClock(
		func() time.Time { return clock },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			clock = clock.Add(d)
			return nil
		},
	)

	// First send goes through immediately.
	if err := pacer.WaitQuote(context.Background()); err != nil {
		t.Fatalf("WaitQuote: %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first quote must not sleep, slept %v", slept)
	}

	// 100ms later the pacer must wait the remaining 150ms.
	clock = clock.Add(100 * time.Millisecond)
	if err := pacer.WaitQuote(context.Background()); err != nil {
		t.Fatalf("WaitQuote: %v", err)
	}
	if len(slept) != 1 || slept[0] != 150*time.Millisecond {
		t.Fatalf("expected one 150ms sleep, got %v", slept)
	}

	// Past the interval: no sleep.
	clock = clock.Add(300 * time.Millisecond)
	if err := pacer.WaitQuote(context.Background()); err != nil {
		t.Fatalf("WaitQuote: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("expected no extra sleep, got %v", slept)
	}
}

func TestQuotePacerDisabled(t *testing.T) {
	t.Parallel()

	pacer := NewQuotePacer(0)
	for i := 0; i < 3; i++ {
		if err := pacer.WaitQuote(context.Background()); err != nil {
			t.Fatalf("WaitQuote: %v", err)
		}
	}
}
