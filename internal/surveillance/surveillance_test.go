package surveillance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Tuesday 2024-03-05 10:00 New York.
var now = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func newCalendar(t *testing.T) *util.TradingCalendar {
	t.Helper()
	cal, err := util.NewTradingCalendar("America/New_York", nil)
	require.NoError(t, err)
	return cal
}

func params() Params { return ParamsFromConfig(config.Default().Surveillance) }

// washActivity is twelve buys and twelve sells of one security within three
// minutes at nearly identical prices.
func washActivity(start time.Time) ([]domain.Order, []domain.Execution) {
	var (
		orders []domain.Order
		execs  []domain.Execution
	)
	for i := 0; i < 24; i++ {
		side, price := domain.SideBuy, d("100.00")
		if i%2 == 1 {
			side, price = domain.SideSell, d("100.05")
		}
		at := start.Add(time.Duration(i) * 7 * time.Second)
		id := fmt.Sprintf("ord-%02d", i)
		orders = append(orders, domain.Order{
			ID: id, AccountID: "acct-1", SecurityID: "sec-xyz", Symbol: "XYZ",
			Side: side, Type: domain.Market{}, Quantity: d("10"), Filled: d("10"),
			AvgFillPrice: price, TimeInForce: domain.TIFDay, Status: domain.StatusFilled,
			CreatedAt: at, SubmittedAt: at, ExecutedAt: at, UpdatedAt: at,
		})
		execs = append(execs, domain.Execution{
			ID: "x-" + id, OrderID: id, AccountID: "acct-1", SecurityID: "sec-xyz", Symbol: "XYZ",
			Side: side, Quantity: d("10"), Price: price, Venue: "primary", Liquidity: domain.LiquidityRemove,
			ExecutedAt: at,
		})
	}
	return orders, execs
}

func TestDetectWashTrading(t *testing.T) {
	orders, execs := washActivity(now.Add(-10 * time.Minute))
	snap := &Snapshot{AccountID: "acct-1", Start: now.Add(-time.Hour), End: now, Orders: orders, Executions: execs}

	got := DetectWashTrading(params(), newCalendar(t), snap)
	require.Len(t, got, 1)
	assert.Equal(t, domain.DetectWashTrading, got[0].Kind)
	assert.Equal(t, domain.SeverityHigh, got[0].Severity)
	assert.Equal(t, "sec-xyz", got[0].SecurityID)
	assert.Len(t, got[0].OrderIDs, 24)

	all := Detect(params(), newCalendar(t), snap)
	require.Len(t, all, 1)
	assert.Equal(t, 30, RiskScore(all))
	assert.True(t, RequiresReview(all))
}

func TestDetectWashTradingNeedsCloseTimeAndPrice(t *testing.T) {
	buy := domain.Execution{OrderID: "b", SecurityID: "sec-xyz", Side: domain.SideBuy, Quantity: d("10"), Price: d("100"), ExecutedAt: now}
	tests := []struct {
		name string
		sell domain.Execution
		want int
	}{
		{"matching", domain.Execution{OrderID: "s", SecurityID: "sec-xyz", Side: domain.SideSell, Quantity: d("10"), Price: d("100.90"), ExecutedAt: now.Add(4 * time.Minute)}, 1},
		{"too far apart", domain.Execution{OrderID: "s", SecurityID: "sec-xyz", Side: domain.SideSell, Quantity: d("10"), Price: d("100"), ExecutedAt: now.Add(6 * time.Minute)}, 0},
		{"price gap", domain.Execution{OrderID: "s", SecurityID: "sec-xyz", Side: domain.SideSell, Quantity: d("10"), Price: d("102"), ExecutedAt: now.Add(time.Minute)}, 0},
		{"other security", domain.Execution{OrderID: "s", SecurityID: "sec-abc", Side: domain.SideSell, Quantity: d("10"), Price: d("100"), ExecutedAt: now}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &Snapshot{Executions: []domain.Execution{buy, tt.sell}}
			assert.Len(t, DetectWashTrading(params(), nil, snap), tt.want)
		})
	}
}

func cancelledOrders(n int, side domain.Side, price string) []domain.Order {
	var out []domain.Order
	for i := 0; i < n; i++ {
		at := now.Add(-time.Duration(30-i) * time.Minute)
		out = append(out, domain.Order{
			ID: fmt.Sprintf("c-%02d", i), AccountID: "acct-1", SecurityID: "sec-xyz",
			Side: side, Type: domain.Limit{Price: d(price)}, Quantity: d("100"),
			Status: domain.StatusCancelled, CreatedAt: at, SubmittedAt: at, CancelledAt: at.Add(30 * time.Second),
		})
	}
	return out
}

func TestDetectSpoofing(t *testing.T) {
	executed := []domain.Execution{{OrderID: "f-1", SecurityID: "sec-xyz", Side: domain.SideSell, Quantity: d("50"), Price: d("100"), ExecutedAt: now}}

	t.Run("many cancels, little executed", func(t *testing.T) {
		snap := &Snapshot{Orders: cancelledOrders(11, domain.SideSell, "101"), Executions: executed}
		got := DetectSpoofing(params(), nil, snap)
		require.Len(t, got, 1)
		assert.Equal(t, domain.SeverityHigh, got[0].Severity)
		assert.Equal(t, domain.SideSell, got[0].Side)
		assert.Len(t, got[0].OrderIDs, 11)
	})
	t.Run("ten cancels is not enough", func(t *testing.T) {
		snap := &Snapshot{Orders: cancelledOrders(10, domain.SideSell, "101"), Executions: executed}
		assert.Empty(t, DetectSpoofing(params(), nil, snap))
	})
	t.Run("volume ratio too low", func(t *testing.T) {
		big := []domain.Execution{{OrderID: "f-1", SecurityID: "sec-xyz", Side: domain.SideSell, Quantity: d("200"), Price: d("100"), ExecutedAt: now}}
		snap := &Snapshot{Orders: cancelledOrders(11, domain.SideSell, "101"), Executions: big}
		assert.Empty(t, DetectSpoofing(params(), nil, snap))
	})
	t.Run("executions on the other side do not count", func(t *testing.T) {
		other := []domain.Execution{{OrderID: "f-1", SecurityID: "sec-xyz", Side: domain.SideBuy, Quantity: d("5000"), Price: d("100"), ExecutedAt: now}}
		snap := &Snapshot{Orders: cancelledOrders(11, domain.SideSell, "101"), Executions: other}
		assert.Len(t, DetectSpoofing(params(), nil, snap), 1)
	})
}

func resting(id, price string, start time.Time, status domain.Status, end time.Time) domain.Order {
	return domain.Order{
		ID: id, AccountID: "acct-1", SecurityID: "sec-xyz", Side: domain.SideBuy,
		Type: domain.Limit{Price: d(price)}, Quantity: d("100"), Status: status,
		CreatedAt: start, SubmittedAt: start, CancelledAt: end,
	}
}

func TestDetectLayering(t *testing.T) {
	base := now.Add(-20 * time.Minute)

	t.Run("three live levels", func(t *testing.T) {
		snap := &Snapshot{End: now, Orders: []domain.Order{
			resting("a", "49", base, domain.StatusSubmitted, time.Time{}),
			resting("b", "48", base.Add(time.Minute), domain.StatusCancelled, base.Add(5*time.Minute)),
			resting("c", "47", base.Add(2*time.Minute), domain.StatusPending, time.Time{}),
		}}
		got := DetectLayering(params(), nil, snap)
		require.Len(t, got, 1)
		assert.Equal(t, domain.SeverityMedium, got[0].Severity)
		assert.Equal(t, []string{"a", "b", "c"}, got[0].OrderIDs)
		assert.Equal(t, 20, RiskScore(got))
		assert.False(t, RequiresReview(got))
	})
	t.Run("two levels", func(t *testing.T) {
		snap := &Snapshot{End: now, Orders: []domain.Order{
			resting("a", "49", base, domain.StatusSubmitted, time.Time{}),
			resting("b", "49", base.Add(time.Minute), domain.StatusSubmitted, time.Time{}),
			resting("c", "48", base.Add(2*time.Minute), domain.StatusSubmitted, time.Time{}),
		}}
		assert.Empty(t, DetectLayering(params(), nil, snap))
	})
	t.Run("not concurrent", func(t *testing.T) {
		snap := &Snapshot{End: now, Orders: []domain.Order{
			resting("a", "49", base, domain.StatusCancelled, base.Add(time.Minute)),
			resting("b", "48", base.Add(2*time.Minute), domain.StatusCancelled, base.Add(3*time.Minute)),
			resting("c", "47", base.Add(4*time.Minute), domain.StatusSubmitted, time.Time{}),
		}}
		assert.Empty(t, DetectLayering(params(), nil, snap))
	})
}

func TestDetectMarkingTheClose(t *testing.T) {
	cal := newCalendar(t)
	closeAt := cal.SessionClose(now)
	trades := func(n int, first time.Time) []domain.Execution {
		var out []domain.Execution
		for i := 0; i < n; i++ {
			out = append(out, domain.Execution{
				OrderID: fmt.Sprintf("m-%d", i), SecurityID: "sec-xyz", Side: domain.SideBuy,
				Quantity: d("1"), Price: d("100"), ExecutedAt: first.Add(time.Duration(i) * time.Minute),
			})
		}
		return out
	}

	got := DetectMarkingTheClose(params(), cal, &Snapshot{Executions: trades(6, closeAt.Add(-10*time.Minute))})
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityMedium, got[0].Severity)
	assert.Contains(t, got[0].Detail, "2024-03-05")

	assert.Empty(t, DetectMarkingTheClose(params(), cal, &Snapshot{Executions: trades(5, closeAt.Add(-10*time.Minute))}))
	assert.Empty(t, DetectMarkingTheClose(params(), cal, &Snapshot{Executions: trades(6, closeAt.Add(-2*time.Hour))}))
}

func TestRiskScoreCapped(t *testing.T) {
	ds := make([]domain.Detection, 4)
	for i := range ds {
		ds[i].Severity = domain.SeverityHigh
	}
	assert.Equal(t, 100, RiskScore(ds))
	assert.Equal(t, 0, RiskScore(nil))
}

func TestScanPersistsAndPublishesAlert(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orders, execs := washActivity(now.Add(-10 * time.Minute))
	for i := range orders {
		require.NoError(t, st.InsertOrder(ctx, &orders[i]))
		require.NoError(t, st.InsertExecution(ctx, &execs[i]))
	}

	disp := events.NewDispatcher(16, util.Discard())
	_, ch := disp.Subscribe(4, domain.EventComplianceAlert)
	eng := NewEngine(st, newCalendar(t), params(), disp, util.Discard())
	eng.SetClock(func() time.Time { return now })

	alerts, err := eng.ScanActive(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, "acct-1", alert.AccountID)
	assert.True(t, alert.RequiresReview)
	assert.Equal(t, 30, alert.RiskScore)
	assert.Equal(t, now.Add(-time.Hour), alert.WindowStart)

	stored, err := st.AlertsByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, alert.ID, stored[0].ID)
	require.Len(t, stored[0].Detections, 1)
	assert.Equal(t, domain.DetectWashTrading, stored[0].Detections[0].Kind)

	select {
	case ev := <-ch:
		assert.Equal(t, domain.EventComplianceAlert, ev.Type)
		require.NotNil(t, ev.Alert)
		assert.Equal(t, alert.ID, ev.Alert.ID)
	default:
		t.Fatal("no compliance alert published")
	}
}

func TestScanCountsOldOrdersCancelledInWindow(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	placed := now.Add(-2 * time.Hour)
	for i := 0; i < 11; i++ {
		cancelled := now.Add(-time.Duration(20-i) * time.Minute)
		o := &domain.Order{
			ID: fmt.Sprintf("old-%02d", i), AccountID: "acct-1", SecurityID: "sec-xyz", Symbol: "XYZ",
			Side: domain.SideSell, Type: domain.Limit{Price: d("101")}, Quantity: d("100"), Remaining: d("100"),
			TimeInForce: domain.TIFGTC, Status: domain.StatusCancelled,
			CreatedAt: placed, SubmittedAt: placed, CancelledAt: cancelled, UpdatedAt: cancelled,
		}
		require.NoError(t, st.InsertOrder(ctx, o))
	}

	eng := NewEngine(st, newCalendar(t), params(), nil, util.Discard())
	eng.SetClock(func() time.Time { return now })

	snap, err := eng.Snapshot(ctx, "acct-1", now)
	require.NoError(t, err)
	assert.Len(t, snap.Orders, 11)

	alert, err := eng.Scan(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	require.Len(t, alert.Detections, 1)
	assert.Equal(t, domain.DetectSpoofing, alert.Detections[0].Kind)
	assert.Len(t, alert.Detections[0].OrderIDs, 11)
}

func TestScanCleanAccount(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := NewEngine(st, newCalendar(t), params(), nil, util.Discard())
	eng.SetClock(func() time.Time { return now })

	alert, err := eng.Scan(context.Background(), "acct-quiet")
	require.NoError(t, err)
	assert.Nil(t, alert)
}
