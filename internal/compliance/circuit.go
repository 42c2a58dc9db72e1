package compliance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/marketdata"
	"tradegate/internal/util"
)

// CircuitBreaker turns price moves from the previous close, in either
// direction, into halts:
// levels 1 and 2 pause trading for a fixed duration, level 3 halts for the
// rest of the trading day. Each level triggers at most once per day.
type CircuitBreaker struct {
	levels []decimal.Decimal // move thresholds for levels 1..n, ascending
	pause  time.Duration
	cal    *util.TradingCalendar
}

// NewCircuitBreaker creates a CircuitBreaker from move fractions (e.g.
// 0.07, 0.13, 0.20). The last level halts for the rest of the day.
func NewCircuitBreaker(levels []float64, pause time.Duration, cal *util.TradingCalendar) *CircuitBreaker {
	cb := &CircuitBreaker{pause: pause, cal: cal}
	for _, l := range levels {
		cb.levels = append(cb.levels, decimal.NewFromFloat(l))
	}
	return cb
}

// Level returns the highest level whose threshold the quote's absolute move
// from the previous close has reached, or 0.
func (cb *CircuitBreaker) Level(q marketdata.Quote) int {
	move := q.ChangeFromClose().Abs()
	level := 0
	for i, threshold := range cb.levels {
		if move.GreaterThanOrEqual(threshold) {
			level = i + 1
		}
	}
	return level
}

// Check returns the halt to record for sec at now, or nil when no new level
// has been reached today. recent must hold the security's halts since the
// start of the trading day.
func (cb *CircuitBreaker) Check(sec *domain.Security, q marketdata.Quote, recent []domain.Halt, now time.Time) *domain.Halt {
	level := cb.Level(q)
	if level == 0 {
		return nil
	}
	today := cb.cal.TradingDate(now)
	for _, h := range recent {
		if h.Level >= level && cb.cal.TradingDate(h.Start) == today {
			return nil
		}
	}
	change := q.ChangeFromClose()
	dir := "up"
	if change.IsNegative() {
		dir = "down"
	}
	h := &domain.Halt{
		SecurityID: sec.ID,
		Level:      level,
		Reason:     fmt.Sprintf("%s %s %s%% from previous close", sec.Symbol, dir, change.Abs().Mul(decimal.NewFromInt(100)).StringFixed(2)),
		Start:      now,
	}
	if level < len(cb.levels) {
		h.End = now.Add(cb.pause)
	}
	return h
}
