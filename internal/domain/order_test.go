package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allStatuses = []Status{
	StatusPendingSubmit, StatusSubmitted, StatusPending, StatusPartiallyFilled,
	StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReconciliationPending,
}

func newOrder(qty string) *Order {
	q := d(qty)
	return &Order{
		ID:        "o-1",
		Quantity:  q,
		Remaining: q,
		Status:    StatusSubmitted,
		Type:      Market{},
		Side:      SideBuy,
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, from := range allStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s allowed", from, to)
		}
	}
}

func TestTransitionError(t *testing.T) {
	o := newOrder("10")
	o.Status = StatusFilled
	err := o.Transition(StatusCancelled, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusFilled, te.Current)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestTransitionStampsTimes(t *testing.T) {
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	o := newOrder("10")
	o.Status = StatusPendingSubmit
	require.NoError(t, o.Transition(StatusSubmitted, at))
	assert.Equal(t, at, o.SubmittedAt)
	require.NoError(t, o.Transition(StatusCancelled, at.Add(time.Second)))
	assert.Equal(t, at.Add(time.Second), o.CancelledAt)
}

func TestReconciliationPendingOnlyResolvesByOperator(t *testing.T) {
	assert.False(t, StatusReconciliationPending.Cancellable())
	assert.False(t, StatusReconciliationPending.Fillable())
	assert.False(t, StatusReconciliationPending.Terminal())
	assert.True(t, CanTransition(StatusReconciliationPending, StatusRejected))
}

func TestApplyFillWeightedAverage(t *testing.T) {
	o := newOrder("100")
	now := time.Now()

	next, err := o.ApplyFill(d("40"), d("10"), now)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, next)

	next, err = o.ApplyFill(d("60"), d("11"), now)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, next)
	assert.True(t, o.AvgFillPrice.Equal(d("10.6")), "avg = %s", o.AvgFillPrice)
	assert.True(t, o.Remaining.IsZero())
}

func TestApplyFillRejectsOverFill(t *testing.T) {
	o := newOrder("10")
	_, err := o.ApplyFill(d("11"), d("1"), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverFill))
	assert.True(t, o.Filled.IsZero(), "over-fill must not change totals")

	_, err = o.ApplyFill(d("1"), d("0"), time.Now())
	assert.True(t, errors.Is(err, ErrInvalidFill))
}

func TestQuantityInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		qty := rapid.Int64Range(1, 10_000).Draw(rt, "qty")
		o := newOrder(decimal.NewFromInt(qty).String())
		fills := rapid.SliceOf(rapid.Int64Range(1, 5_000)).Draw(rt, "fills")
		for _, f := range fills {
			_, _ = o.ApplyFill(decimal.NewFromInt(f), decimal.NewFromInt(7), time.Now())
			if !o.Filled.Add(o.Remaining).Equal(o.Quantity) {
				rt.Fatalf("filled %s + remaining %s != quantity %s", o.Filled, o.Remaining, o.Quantity)
			}
			if o.Remaining.IsNegative() {
				rt.Fatalf("remaining went negative: %s", o.Remaining)
			}
		}
	})
}

func TestForwardOnlyTransitionsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		o := newOrder("1")
		o.Status = StatusPendingSubmit
		steps := rapid.SliceOf(rapid.SampledFrom(allStatuses)).Draw(rt, "steps")
		for _, next := range steps {
			from := o.Status
			err := o.Transition(next, time.Now())
			if from.Terminal() && err == nil {
				rt.Fatalf("left terminal status %s for %s", from, next)
			}
			if err == nil && from == StatusReconciliationPending && !next.Terminal() {
				rt.Fatalf("reconciliation_pending moved to non-terminal %s", next)
			}
		}
	})
}
