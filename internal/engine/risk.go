package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/compliance"
	"tradegate/internal/domain"
	"tradegate/internal/marketdata"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

// haltLookback bounds how far back halts are loaded; regulatory halts with
// an explicit end can span several days.
const haltLookback = 30 * 24 * time.Hour

// RiskManager gathers the compliance input for an order (market data,
// positions, restrictions, halts and recent fills), trips the circuit
// breaker when the quote calls for it and runs the gate.
type RiskManager struct {
	gate      *compliance.Gate
	breaker   *compliance.CircuitBreaker
	quotes    marketdata.Provider
	cal       *util.TradingCalendar
	pdtWindow int
	log       *slog.Logger
}

// NewRiskManager creates a RiskManager. pdtWindow is the number of business
// days of fills loaded for the pattern day trader rule.
func NewRiskManager(gate *compliance.Gate, breaker *compliance.CircuitBreaker, quotes marketdata.Provider, cal *util.TradingCalendar, pdtWindow int, log *slog.Logger) *RiskManager {
	return &RiskManager{
		gate:      gate,
		breaker:   breaker,
		quotes:    quotes,
		cal:       cal,
		pdtWindow: pdtWindow,
		log:       log.With("component", "risk"),
	}
}

// quote returns the market quote for an order and whether it came from the
// provider. When the provider has no price, priced orders fall back to their
// own limit or stop price; market orders cannot be valued and are refused.
func (rm *RiskManager) quote(ctx context.Context, o *domain.Order) (marketdata.Quote, bool, error) {
	q, err := rm.quotes.Quote(ctx, o.Symbol)
	if err == nil && q.Last.IsPositive() {
		return q, true, nil
	}
	if err != nil && !errors.Is(err, marketdata.ErrNoQuote) {
		rm.log.Warn("quote unavailable", "symbol", o.Symbol, "error", err)
	}
	if p := compliance.ReferencePrice(o, marketdata.Quote{}); p.IsPositive() {
		return marketdata.Quote{Symbol: o.Symbol, Last: p}, false, nil
	}
	return marketdata.Quote{}, false, domain.InvalidParams("no reference price for %s", o.Symbol)
}

// Assess evaluates o for acct. s must be the store the caller will persist
// the order through. Halts tripped by the circuit breaker are recorded even
// when the order is then denied.
//
// The returned quote is the provider's. It is zero when the provider had no
// price and the gate valued the order at its own price, so nothing may
// execute against it.
func (rm *RiskManager) Assess(ctx context.Context, s store.Store, acct *domain.Account, sec *domain.Security, o *domain.Order, now time.Time) (domain.Decision, marketdata.Quote, error) {
	d, q, live, err := rm.assess(ctx, s, acct, sec, o, now)
	if err != nil || !live {
		return d, marketdata.Quote{}, err
	}
	return d, q, nil
}

func (rm *RiskManager) assess(ctx context.Context, s store.Store, acct *domain.Account, sec *domain.Security, o *domain.Order, now time.Time) (domain.Decision, marketdata.Quote, bool, error) {
	var d domain.Decision

	q, live, err := rm.quote(ctx, o)
	if err != nil {
		return d, q, false, err
	}

	halts, err := s.HaltsSince(ctx, sec.ID, now.Add(-haltLookback))
	if err != nil {
		return d, q, false, err
	}
	if h := rm.breaker.Check(sec, q, halts, now); h != nil {
		if err := s.AddHalt(ctx, h); err != nil {
			return d, q, false, fmt.Errorf("recording circuit breaker halt: %w", err)
		}
		rm.log.Warn("circuit breaker tripped", "symbol", sec.Symbol, "level", h.Level, "until", h.End)
		halts = append(halts, *h)
	}

	restrictions, err := s.Restrictions(ctx, sec.ID, acct.ID)
	if err != nil {
		return d, q, false, err
	}

	var position *domain.Position
	if p, err := s.GetPosition(ctx, acct.ID, sec.ID); err == nil {
		position = p
	} else if !errors.Is(err, domain.ErrNotFound) {
		return d, q, false, err
	}

	execs, err := s.ExecutionsByAccount(ctx, acct.ID, rm.cal.BusinessWindowStart(now, rm.pdtWindow))
	if err != nil {
		return d, q, false, err
	}

	unrealized, err := rm.unrealized(ctx, s, acct.ID, sec.ID, q)
	if err != nil {
		return d, q, false, err
	}

	in := compliance.Input{
		Account:       acct,
		Security:      sec,
		Order:         o,
		Position:      position,
		Quote:         q,
		Restrictions:  restrictions,
		Halts:         halts,
		UnrealizedPnL: unrealized,
		Executions:    execs,
		Now:           now,
	}
	if sec.Type == domain.SecurityOption && !o.Side.IsBuy() && sec.UnderlyingSymbol != "" {
		if uq, err := rm.quotes.Quote(ctx, sec.UnderlyingSymbol); err == nil {
			in.UnderlyingPrice = uq.Last
		} else {
			rm.log.Warn("underlying quote unavailable", "underlying", sec.UnderlyingSymbol, "error", err)
		}
	}

	return rm.gate.Evaluate(in), q, live, nil
}

// unrealized sums open P&L over the account's positions. Positions without a
// quote are left out.
func (rm *RiskManager) unrealized(ctx context.Context, s store.Store, accountID, securityID string, q marketdata.Quote) (decimal.Decimal, error) {
	positions, err := s.PositionsByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		mark := q.Last
		if p.SecurityID != securityID {
			pq, err := rm.quotes.Quote(ctx, p.Symbol)
			if err != nil || !pq.Last.IsPositive() {
				continue
			}
			mark = pq.Last
		}
		total = total.Add(p.UnrealizedPnL(mark))
	}
	return total, nil
}
