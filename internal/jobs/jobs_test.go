package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

type countingScanner struct{ calls atomic.Int32 }

func (s *countingScanner) ScanActive(context.Context) ([]domain.Alert, error) {
	s.calls.Add(1)
	return nil, nil
}

type fakeExpirer struct {
	at []time.Time
	n  int
}

func (f *fakeExpirer) ExpireDayOrders(_ context.Context, now time.Time) (int, error) {
	f.at = append(f.at, now)
	return f.n, nil
}

func newCalendar(t *testing.T) *util.TradingCalendar {
	t.Helper()
	cal, err := util.NewTradingCalendar("America/New_York", nil)
	require.NoError(t, err)
	return cal
}

func TestSurveillanceJobTicks(t *testing.T) {
	s := &countingScanner{}
	job := NewSurveillanceJob(s, 5*time.Millisecond, util.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := RunAll(ctx, util.Discard(), NewSurveillanceJob(&countingScanner{}, time.Millisecond, util.Discard()))
	assert.NoError(t, err)
}

type failingJob struct{}

func (failingJob) Name() string { return "failing" }
func (failingJob) Run(context.Context) error { return errors.New("boom") }

func TestRunAllReportsFailure(t *testing.T) {
	err := RunAll(context.Background(), util.Discard(),
		failingJob{}, NewSurveillanceJob(&countingScanner{}, time.Millisecond, util.Discard()))
	assert.EqualError(t, err, "boom")
}

func TestCloseJobExpiresAndArchives(t *testing.T) {
	ctx := context.Background()
	cal := newCalendar(t)

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// Tuesday 2024-03-05, one fill mid-session and one the next morning.
	tue := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{tue, tue.Add(24 * time.Hour)} {
		require.NoError(t, st.InsertExecution(ctx, &domain.Execution{
			ID: []string{"x-1", "x-2"}[i], OrderID: "ord-1", AccountID: "acct-1", SecurityID: "sec-xyz",
			Symbol: "XYZ", Side: domain.SideBuy, Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(50),
			Venue: "primary", Liquidity: domain.LiquidityRemove, ExecutedAt: at,
		}))
	}

	archive := store.NewParquetArchive(t.TempDir())
	exp := &fakeExpirer{n: 2}
	job := NewCloseJob(exp, NewArchiver(st, archive, cal, util.Discard()), cal, util.Discard())

	closed := time.Date(2024, 3, 5, 21, 0, 1, 0, time.UTC)
	require.NoError(t, job.RunOnce(ctx, closed))
	assert.Equal(t, []time.Time{closed}, exp.at)

	got, err := archive.ReadExecutions(ctx, "acct-1", tue.Add(-time.Hour), tue.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x-1", got[0].ID)

	// Re-running the same close does not duplicate archived rows.
	require.NoError(t, job.RunOnce(ctx, closed))
	got, err = archive.ReadExecutions(ctx, "acct-1", tue.Add(-time.Hour), tue.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestArchiverRange(t *testing.T) {
	ctx := context.Background()
	cal := newCalendar(t)
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mon := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.InsertExecution(ctx, &domain.Execution{
			ID: "x-" + string(rune('a'+i)), OrderID: "ord-1", AccountID: "acct-1", SecurityID: "sec-xyz",
			Symbol: "XYZ", Side: domain.SideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(50),
			ExecutedAt: mon.AddDate(0, 0, i),
		}))
	}

	a := NewArchiver(st, store.NewParquetArchive(t.TempDir()), cal, util.Discard())
	n, err := a.Archive(ctx, DateRange{Start: mon, End: mon.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
