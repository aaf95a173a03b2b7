package prp

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "prp.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendExecutionEventDedup(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	event := exe("e1", "x1", "005930", "BUY", "10000", 10, time.Now().UTC())
	applied, err := store.AppendExecutionEvent(event)
	require.NoError(t, err)
	require.True(t, applied)

	// Same execution id under a different event id must be skipped.
	event.EventID = "e2"
	applied, err = store.AppendExecutionEvent(event)
	require.NoError(t, err)
	require.False(t, applied)

	exists, err := store.ExecutionExists("x1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.ExecutionExists("x-missing")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAppendOrderEventUniqueness(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	at := time.Now().UTC()
	event := OrderEvent{
		EventID:        "evt-ord-1",
		OrderID:        "opm-2026-02-17-005930-BUY-abc12345",
		TradingDate:    "2026-02-17",
		OccurredAt:     at,
		Symbol:         "005930",
		Side:           "BUY",
		OrderType:      "LIMIT",
		OrderPrice:     d("10000"),
		Quantity:       10,
		Status:         "SUBMITTED",
		ClientOrderKey: "2026-02-17-005930-BUY-1",
	}
	require.NoError(t, store.AppendOrderEvent(event))

	// Same (order, status, occurred_at) is an accidental duplicate.
	event.EventID = "evt-ord-2"
	require.Error(t, store.AppendOrderEvent(event))

	// A later transition of the same order is fine.
	event.EventID = "evt-ord-3"
	event.Status = "ACCEPTED"
	event.OccurredAt = at.Add(time.Second)
	require.NoError(t, store.AppendOrderEvent(event))
}

func TestStateSnapshotLatestWins(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	base := time.Now().UTC()
	first := PositionSnapshot{
		SnapshotID:        "snap-1",
		SavedAt:           base,
		TradingDate:       "2026-02-17",
		Symbol:            "005930",
		AvgBuyPrice:       d("10000"),
		Quantity:          10,
		CurrentProfitRate: d("0.5"),
		MaxProfitRate:     d("0.5"),
		StateVersion:      1,
	}
	require.NoError(t, store.SaveStateSnapshot(first))

	second := first
	second.SnapshotID = "snap-2"
	second.SavedAt = base.Add(time.Minute)
	second.CurrentProfitRate = d("1.2")
	second.MaxProfitRate = d("1.2")
	second.MinProfitLocked = true
	second.StateVersion = 2
	require.NoError(t, store.SaveStateSnapshot(second))

	got, err := store.LoadLatestStateSnapshot("2026-02-17")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "snap-2", got.SnapshotID)
	require.True(t, got.MinProfitLocked)
	require.EqualValues(t, 2, got.StateVersion)

	got, err = store.LoadLatestStateSnapshot("2026-02-18")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListStrategyEventsFilters(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	base := time.Now().UTC()
	low := d("98.5")
	events := []StrategyEvent{
		{EventID: "s1", TradingDate: "2026-02-17", OccurredAt: base, Symbol: "005930", EventType: "BUY_CANDIDATE_ENTERED"},
		{EventID: "s2", TradingDate: "2026-02-17", OccurredAt: base.Add(time.Second), Symbol: "005930", EventType: "LOCAL_LOW_UPDATED", LocalLow: &low},
		{EventID: "s3", TradingDate: "2026-02-16", OccurredAt: base.Add(2 * time.Second), Symbol: "005930", EventType: "BUY_SIGNAL"},
	}
	for _, e := range events {
		require.NoError(t, store.AppendStrategyEvent(e))
	}

	got, err := store.ListStrategyEvents("2026-02-17", nil, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	require.Equal(t, "s2", got[0].EventID)
	require.NotNil(t, got[0].LocalLow)
	require.True(t, got[0].LocalLow.Equal(low))

	got, err = store.ListStrategyEvents("", []string{"BUY_SIGNAL"}, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "s3", got[0].EventID)
}

func TestGenerateDailyReportPersists(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	day := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	fills := []ExecutionEvent{
		exe("e1", "x1", "005930", "BUY", "10000", 10, day),
		exe("e2", "x2", "005930", "SELL", "10100", 10, day.Add(5*time.Hour+30*time.Minute)),
	}
	for _, f := range fills {
		applied, err := store.AppendExecutionEvent(f)
		require.NoError(t, err)
		require.True(t, applied)
	}

	report, err := store.GenerateDailyReport("2026-02-17")
	require.NoError(t, err)
	require.True(t, report.TotalNetPnl.Equal(d("786.89")))

	// Regeneration replaces the day's rows instead of accumulating.
	report, err = store.GenerateDailyReport("2026-02-17")
	require.NoError(t, err)
	require.True(t, report.TotalNetPnl.Equal(d("786.89")))

	details, err := store.ListTradeDetails("2026-02-17", "")
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.True(t, details[0].SellAmount.Equal(d("101000.00")))

	stored, err := store.LoadDailyReport("2026-02-17")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.TotalReturnRate.Equal(d("0.7869")))
}
