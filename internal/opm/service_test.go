package opm

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kiwoom-trader/internal/prp"
)

// memStore captures appended events in memory and dedups executions the way
// the real store does.
type memStore struct {
	orderEvents []prp.OrderEvent
	execIDs     map[string]bool
	snapshots   []prp.PositionSnapshot
}

func newMemStore() *memStore {
	return &memStore{execIDs: map[string]bool{}}
}

func (m *memStore) AppendOrderEvent(e prp.OrderEvent) error {
	m.orderEvents = append(m.orderEvents, e)
	return nil
}

func (m *memStore) AppendExecutionEvent(e prp.ExecutionEvent) (bool, error) {
	if m.execIDs[e.ExecutionID] {
		return false, nil
	}
	m.execIDs[e.ExecutionID] = true
	return true, nil
}

func (m *memStore) SaveStateSnapshot(s prp.PositionSnapshot) error {
	m.snapshots = append(m.snapshots, s)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testTime = time.Date(2026, 2, 17, 9, 10, 0, 0, time.UTC)

func TestCreateOrderDefaults(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70100"), 14, "", testTime)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(order.ID, "opm-2026-02-17-005930-BUY-"))
	require.True(t, strings.HasPrefix(order.ClientOrderID, "2026-02-17-005930-BUY-"))
	require.Equal(t, StatusPendingSubmit, order.Status)
	require.Equal(t, int64(14), order.RemainingQty)

	require.Len(t, store.orderEvents, 1)
	require.Equal(t, StatusPendingSubmit, store.orderEvents[0].Status)
	require.Equal(t, order.ClientOrderID, store.orderEvents[0].ClientOrderKey)
}

func TestMoveOrderStatusRecordsBrokerIDAndError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70100"), 1, "coid-1", testTime)
	require.NoError(t, err)

	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusRejected, testTime.Add(time.Second), "B-9", "OPM_KIA_ORDER_REJECTED"))
	require.Equal(t, "B-9", order.BrokerOrderID)
	require.Equal(t, "OPM_KIA_ORDER_REJECTED", order.LastErrorCode)

	last := store.orderEvents[len(store.orderEvents)-1]
	require.Equal(t, StatusRejected, last.Status)
	require.Equal(t, "OPM_KIA_ORDER_REJECTED", last.ReasonCode)

	err = svc.MoveOrderStatus(order, StatusAccepted, testTime, "", "")
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

func TestReconcileBuyFillRefreshesInterimMetrics(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70000"), 10, "coid-1", testTime)
	require.NoError(t, err)
	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "B-1", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusAccepted, testTime, "", ""))

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)
	applied, err := svc.ReconcileExecutionEvents(order, position, []Fill{
		{ExecutionID: "exe-1", Symbol: "005930", Side: SideBuy, Price: d("70000"), Qty: 10, ExecutedAt: testTime},
	}, 0, d("70500"), testTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	require.Equal(t, StatusFilled, order.Status)
	require.Equal(t, int64(10), order.CumExecutedQty)
	require.Equal(t, int64(0), order.RemainingQty)

	require.Equal(t, PositionLongOpen, position.State)
	require.Equal(t, int64(10), position.Quantity)
	require.True(t, position.AvgBuyPrice.Equal(d("70000")))

	// mark 705000, tax 1410, fee 77.55, net 3512.45 on 700000 cost.
	require.True(t, position.GrossInterimPnl.Equal(d("5000")))
	require.True(t, position.EstSellTax.Equal(d("1410")))
	require.True(t, position.EstSellFee.Equal(d("77.55")))
	require.True(t, position.NetInterimPnl.Equal(d("3512.45")))
	require.True(t, position.CurrentProfitRate.Equal(d("0.5018")), "got %s", position.CurrentProfitRate)
	require.True(t, position.MaxProfitRate.Equal(d("0.5018")))
	require.False(t, position.MinProfitLocked)

	require.Len(t, store.snapshots, 1)
	require.Equal(t, order.ID, store.snapshots[0].LastOrderID)
	require.Equal(t, int64(1), store.snapshots[0].StateVersion)
}

func TestReconcilePartialThenFilled(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70000"), 10, "coid-1", testTime)
	require.NoError(t, err)
	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "B-1", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusAccepted, testTime, "", ""))

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)

	applied, err := svc.ReconcileExecutionEvents(order, position, []Fill{
		{ExecutionID: "exe-1", Symbol: "005930", Side: SideBuy, Price: d("70000"), Qty: 4, ExecutedAt: testTime},
	}, 6, d("70000"), testTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, StatusPartiallyFilled, order.Status)
	require.Equal(t, int64(6), order.RemainingQty)

	applied, err = svc.ReconcileExecutionEvents(order, position, []Fill{
		{ExecutionID: "exe-2", Symbol: "005930", Side: SideBuy, Price: d("70100"), Qty: 6, ExecutedAt: testTime.Add(2 * time.Second)},
	}, 0, d("70100"), testTime.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, StatusFilled, order.Status)
	require.Equal(t, int64(10), position.Quantity)
	// (70000*4 + 70100*6) / 10 = 70060
	require.True(t, position.AvgBuyPrice.Equal(d("70060")), "got %s", position.AvgBuyPrice)
	require.True(t, order.AvgExecPrice.Equal(d("70060")))
	require.Equal(t, int64(2), position.StateVersion)
}

func TestReconcileSellClampsAndCloses(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)
	position.State = PositionLongOpen
	position.Quantity = 5
	position.AvgBuyPrice = d("10000")
	position.BuyNotional = d("50000")

	order, err := svc.CreateOrder("2026-02-17", "005930", SideSell, d("10100"), 5, "coid-s", testTime)
	require.NoError(t, err)
	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "B-2", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusAccepted, testTime, "", ""))

	// Broker reports 8 even though the position holds 5.
	applied, err := svc.ReconcileExecutionEvents(order, position, []Fill{
		{ExecutionID: "exe-s1", Symbol: "005930", Side: SideSell, Price: d("10100"), Qty: 8, ExecutedAt: testTime},
	}, 0, d("10100"), testTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	require.Equal(t, PositionClosed, position.State)
	require.Equal(t, int64(0), position.Quantity)
	require.Equal(t, int64(5), position.SellQuantity)
	require.True(t, position.AvgSellPrice.Equal(d("10100")))
	require.True(t, position.SellNotional.Equal(d("50500")))
}

func TestReconcileSellPartialKeepsExiting(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)
	position.State = PositionLongOpen
	position.Quantity = 5
	position.AvgBuyPrice = d("10000")
	position.BuyNotional = d("50000")

	order, err := svc.CreateOrder("2026-02-17", "005930", SideSell, d("10100"), 5, "coid-s", testTime)
	require.NoError(t, err)
	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "B-2", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusAccepted, testTime, "", ""))

	_, err = svc.ReconcileExecutionEvents(order, position, []Fill{
		{ExecutionID: "exe-s1", Symbol: "005930", Side: SideSell, Price: d("10100"), Qty: 2, ExecutedAt: testTime},
	}, 3, d("10100"), testTime.Add(time.Second))
	require.NoError(t, err)

	require.Equal(t, PositionExiting, position.State)
	require.Equal(t, int64(3), position.Quantity)
	require.Equal(t, StatusPartiallyFilled, order.Status)
}

func TestMinProfitLockLatches(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewService(store, slog.Default())

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)
	position.State = PositionLongOpen
	position.Quantity = 10
	position.AvgBuyPrice = d("70000")
	position.BuyNotional = d("700000")

	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70000"), 10, "coid-1", testTime)
	require.NoError(t, err)

	// Net at 71000: 10000 - 1420 - 78.10 = 8501.90 on 700000 -> 1.2146%.
	_, err = svc.ReconcileExecutionEvents(order, position, nil, 0, d("71000"), testTime.Add(time.Second))
	require.NoError(t, err)
	require.True(t, position.CurrentProfitRate.Equal(d("1.2146")), "got %s", position.CurrentProfitRate)
	require.True(t, position.MinProfitLocked)

	// The rate falling back below the threshold must not release the lock.
	_, err = svc.ReconcileExecutionEvents(order, position, nil, 0, d("70000"), testTime.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, position.CurrentProfitRate.IsNegative())
	require.True(t, position.MinProfitLocked)
	require.True(t, position.MaxProfitRate.Equal(d("1.2146")))
}

func TestReconcileDuplicateFillSkippedAgainstRealStore(t *testing.T) {
	t.Parallel()

	store, err := prp.Open(filepath.Join(t.TempDir(), "events.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(store, slog.Default())
	order, err := svc.CreateOrder("2026-02-17", "005930", SideBuy, d("70000"), 10, "coid-1", testTime)
	require.NoError(t, err)
	require.NoError(t, svc.MoveOrderStatus(order, StatusSubmitted, testTime, "B-1", ""))
	require.NoError(t, svc.MoveOrderStatus(order, StatusAccepted, testTime.Add(time.Second), "", ""))

	position := NewPosition("pos-1", "2026-02-17", "005930", testTime)
	fill := Fill{ExecutionID: "exe-1", Symbol: "005930", Side: SideBuy, Price: d("70000"), Qty: 4, ExecutedAt: testTime}

	applied, err := svc.ReconcileExecutionEvents(order, position, []Fill{fill}, 6, d("70000"), testTime.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	// The broker resends the same execution on the next poll.
	applied, err = svc.ReconcileExecutionEvents(order, position, []Fill{fill}, 6, d("70000"), testTime.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, 0, applied)
	require.Equal(t, int64(4), order.CumExecutedQty)
	require.Equal(t, int64(4), position.Quantity)
	require.Equal(t, int64(1), position.StateVersion)

	latest, err := store.LoadLatestStateSnapshot("2026-02-17")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(4), latest.Quantity)
}

func TestComputePricesDelegateToTickRules(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemStore(), slog.Default())

	sell, err := svc.ComputeSellPrice(d("10000"))
	require.NoError(t, err)
	require.True(t, sell.Equal(d("9900")))

	buy, err := svc.ComputeBuyPrice(d("70000"), 2)
	require.NoError(t, err)
	require.True(t, buy.Equal(d("70200")))
}
