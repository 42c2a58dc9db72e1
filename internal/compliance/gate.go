// Package compliance implements the pre-trade compliance gate: an ordered
// battery of independent checks over a snapshot of the account, the
// security, the order and market data. The gate only reads; the engine
// persists its decision as the order's compliance snapshot.
package compliance

import (
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/marketdata"
	"tradegate/internal/util"
)

// Rule names in evaluation order.
const (
	RuleRestrictedSecurity = "restricted_security"
	RuleRegSHO             = "reg_sho"
	RulePositionLimit      = "position_limit"
	RuleDailyLossLimit     = "daily_loss_limit"
	RuleMargin             = "margin"
	RulePatternDayTrader   = "pattern_day_trader"
	RulePermission         = "permission"
)

// Input is everything the gate looks at for one order. Position is nil when
// the account is flat in the security.
type Input struct {
	Account      *domain.Account
	Security     *domain.Security
	Order        *domain.Order
	Position     *domain.Position
	Quote        marketdata.Quote
	Restrictions []domain.Restriction
	Halts        []domain.Halt

	// UnderlyingPrice is the last price of an option's underlying, used by
	// the short option margin formula.
	UnderlyingPrice decimal.Decimal

	// UnrealizedPnL is the account's open P&L at current marks.
	UnrealizedPnL decimal.Decimal

	// Executions holds the account's fills over the day-trading window.
	Executions []domain.Execution

	Now time.Time
}

// Rates are the gate's numeric parameters.
type Rates struct {
	EquityMargin     decimal.Decimal
	DefaultMargin    decimal.Decimal
	FuturesMargin    decimal.Decimal
	OptionShortUnder decimal.Decimal
	OptionShortFloor decimal.Decimal
	PDTMinEquity     decimal.Decimal
	PDTRoundTrips    int
	PDTWindowDays    int
	SSRDrop          decimal.Decimal
}

// RatesFromConfig converts the configured floats to decimals.
func RatesFromConfig(c config.ComplianceConfig) Rates {
	return Rates{
		EquityMargin:     decimal.NewFromFloat(c.EquityMarginRate),
		DefaultMargin:    decimal.NewFromFloat(c.DefaultMarginRate),
		FuturesMargin:    decimal.NewFromFloat(c.FuturesMarginRate),
		OptionShortUnder: decimal.NewFromFloat(c.OptionShortUnderPct),
		OptionShortFloor: decimal.NewFromFloat(c.OptionShortFloorPct),
		PDTMinEquity:     decimal.NewFromFloat(c.PDTMinEquity),
		PDTRoundTrips:    c.PDTRoundTrips,
		PDTWindowDays:    c.PDTWindowDays,
		SSRDrop:          decimal.NewFromFloat(c.SSRDropPct),
	}
}

// check evaluates one rule. It returns a failure reason, or "" to pass, and
// may append warnings.
type check func(g *Gate, in *Input, d *domain.Decision) string

type rule struct {
	name string
	fn   check
}

// Gate evaluates orders. It is stateless and safe for concurrent use.
type Gate struct {
	rates Rates
	cal   *util.TradingCalendar
	rules []rule
}

// NewGate creates a Gate with the standard rule battery.
func NewGate(rates Rates, cal *util.TradingCalendar) *Gate {
	g := &Gate{rates: rates, cal: cal}
	g.add(RuleRestrictedSecurity, checkRestricted)
	g.add(RuleRegSHO, checkRegSHO)
	g.add(RulePositionLimit, checkPositionLimit)
	g.add(RuleDailyLossLimit, checkDailyLoss)
	g.add(RuleMargin, checkMargin)
	g.add(RulePatternDayTrader, checkPatternDayTrader)
	g.add(RulePermission, checkPermission)
	return g
}

func (g *Gate) add(name string, fn check) {
	g.rules = append(g.rules, rule{name: name, fn: fn})
}

// Evaluate runs every rule in order and returns the full decision. All
// rules run even after a failure so the snapshot lists every reason.
func (g *Gate) Evaluate(in Input) domain.Decision {
	d := domain.Decision{
		EvaluatedAt:    in.Now,
		RequiredMargin: g.RequiredMargin(&in),
	}
	for _, r := range g.rules {
		reason := r.fn(g, &in, &d)
		d.Results = append(d.Results, domain.RuleResult{Rule: r.name, Passed: reason == "", Reason: reason})
	}
	if w := suitabilityWarning(&in); w != "" {
		d.Warnings = append(d.Warnings, w)
	}
	return d
}

// ReferencePrice is the price an order is valued at: its limit price, else
// its stop price, else the last trade.
func ReferencePrice(o *domain.Order, q marketdata.Quote) decimal.Decimal {
	if p, ok := domain.LimitPriceOf(o.Type); ok && p.IsPositive() {
		return p
	}
	if p, ok := domain.StopPriceOf(o.Type); ok && p.IsPositive() {
		return p
	}
	return q.Last
}
