package compliance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// checkRestricted fails for restricted or halted securities and for
// restrictions that block the order's side.
func checkRestricted(g *Gate, in *Input, _ *domain.Decision) string {
	sec := in.Security
	if sec.Restricted {
		return "security " + sec.Symbol + " is on the restricted list"
	}
	if sec.Halted {
		return "trading in " + sec.Symbol + " is halted"
	}
	for _, h := range in.Halts {
		if h.ActiveAt(in.Now, g.cal.Location()) {
			if h.Level > 0 {
				return fmt.Sprintf("circuit breaker level %d halt in effect", h.Level)
			}
			return "trading halted: " + h.Reason
		}
	}
	for _, r := range in.Restrictions {
		if !r.Blocks(in.Order.Side, in.Now) {
			continue
		}
		if r.HoldingMonths > 0 {
			return fmt.Sprintf("holding period of %d months ends %s: %s",
				r.HoldingMonths, r.HoldingEnds().Format("2006-01-02"), r.Reason)
		}
		return "restricted: " + r.Reason
	}
	return ""
}

// checkRegSHO applies Regulation SHO to short sales: threshold securities
// need a locate, and under the short sale restriction a short must be priced
// above the national best bid.
func checkRegSHO(g *Gate, in *Input, d *domain.Decision) string {
	if !in.Order.Side.IsShort() {
		return ""
	}
	sec := in.Security
	if sec.RegSHOThreshold && in.Order.LocateID == "" {
		return "threshold security requires a locate"
	}
	if sec.HardToBorrow {
		d.Warnings = append(d.Warnings, "reg_sho: "+sec.Symbol+" is hard to borrow")
	}
	if !g.ssrActive(sec, in) {
		return ""
	}
	limit, ok := domain.LimitPriceOf(in.Order.Type)
	if !ok {
		return "short sale restriction active: short sales must carry a limit price"
	}
	bid := in.Quote.BestBid()
	if !limit.GreaterThan(bid) {
		return fmt.Sprintf("short sale restriction active: limit %s must be above best bid %s", limit, bid)
	}
	return ""
}

// ssrActive reports whether the short sale restriction applies: flagged on
// the security, or the last price is down ssr_drop from the previous close.
func (g *Gate) ssrActive(sec *domain.Security, in *Input) bool {
	if sec.SSRActive {
		return true
	}
	q := in.Quote
	if !q.PrevClose.IsPositive() || !q.Last.IsPositive() {
		return false
	}
	trigger := q.PrevClose.Mul(decimal.NewFromInt(1).Sub(g.rates.SSRDrop))
	return q.Last.LessThanOrEqual(trigger)
}

func checkPositionLimit(_ *Gate, in *Input, _ *domain.Decision) string {
	limit := in.Account.PositionLimit
	if !limit.IsPositive() {
		return ""
	}
	current := decimal.Zero
	if in.Position != nil {
		current = in.Position.Quantity
	}
	delta := in.Order.Quantity
	if !in.Order.Side.IsBuy() {
		delta = delta.Neg()
	}
	after := current.Add(delta).Abs()
	if after.GreaterThan(limit) {
		return fmt.Sprintf("resulting position %s exceeds limit %s", after, limit)
	}
	return ""
}

func checkDailyLoss(g *Gate, in *Input, _ *domain.Decision) string {
	limit := in.Account.DailyLossLimit
	if !limit.IsPositive() {
		return ""
	}
	realized := in.Account.DailyRealizedPnL
	if in.Account.PnLDate != g.cal.TradingDate(in.Now) {
		realized = decimal.Zero
	}
	pnl := realized.Add(in.UnrealizedPnL)
	if pnl.LessThan(limit.Neg()) {
		return fmt.Sprintf("daily P&L %s breaches loss limit %s", pnl, limit)
	}
	return ""
}

func checkMargin(_ *Gate, in *Input, d *domain.Decision) string {
	bp := in.Account.BuyingPower()
	if bp.LessThan(d.RequiredMargin) {
		return fmt.Sprintf("insufficient buying power: required %s, available %s",
			d.RequiredMargin.StringFixed(2), bp.StringFixed(2))
	}
	return ""
}

// checkPatternDayTrader counts same-day round trips (a buy and a sell of
// the same security on one exchange date) over the trailing business days.
func checkPatternDayTrader(g *Gate, in *Input, _ *domain.Decision) string {
	trips := RoundTrips(in.Executions, g.cal.BusinessWindowStart(in.Now, g.rates.PDTWindowDays), g.cal.TradingDate)
	if trips < g.rates.PDTRoundTrips {
		return ""
	}
	equity := in.Account.Equity()
	if equity.LessThan(g.rates.PDTMinEquity) {
		return fmt.Sprintf("pattern day trader (%d round trips) requires equity %s, have %s",
			trips, g.rates.PDTMinEquity.StringFixed(2), equity.StringFixed(2))
	}
	return ""
}

// RoundTrips counts round trips among execs executed at or after since. Each
// (date, security) pair contributes the smaller of its distinct buy orders
// and distinct sell orders.
func RoundTrips(execs []domain.Execution, since time.Time, dateOf func(time.Time) string) int {
	type key struct{ date, security string }
	buys := make(map[key]map[string]bool)
	sells := make(map[key]map[string]bool)
	for _, e := range execs {
		if e.ExecutedAt.Before(since) {
			continue
		}
		k := key{dateOf(e.ExecutedAt), e.SecurityID}
		side := sells
		if e.Side.IsBuy() {
			side = buys
		}
		if side[k] == nil {
			side[k] = make(map[string]bool)
		}
		side[k][e.OrderID] = true
	}
	trips := 0
	for k, b := range buys {
		trips += min(len(b), len(sells[k]))
	}
	return trips
}

func checkPermission(_ *Gate, in *Input, _ *domain.Decision) string {
	acct, o := in.Account, in.Order
	var missing []string

	switch in.Security.Type {
	case domain.SecurityOption:
		if need := requiredOptionsLevel(o); acct.OptionsLevel < need {
			missing = append(missing, fmt.Sprintf("options level %d required, account has %d", need, acct.OptionsLevel))
		}
	case domain.SecurityFuture:
		if !acct.FuturesApproved {
			missing = append(missing, "futures trading not approved")
		}
	case domain.SecurityForex:
		if !acct.ForexApproved {
			missing = append(missing, "forex trading not approved")
		}
	case domain.SecurityCrypto:
		if !acct.CryptoApproved {
			missing = append(missing, "crypto trading not approved")
		}
	}
	if o.Side.IsShort() && !acct.ShortApproved {
		missing = append(missing, "short selling not approved")
	}
	return strings.Join(missing, "; ")
}

// requiredOptionsLevel is 3 for spreads, 2 for selling and 1 for buying.
func requiredOptionsLevel(o *domain.Order) int {
	switch {
	case o.OptionStrategy == domain.OptionSpread:
		return 3
	case !o.Side.IsBuy():
		return 2
	default:
		return 1
	}
}

// suitabilityWarning flags speculative activity in conservative accounts.
// It never blocks the order.
func suitabilityWarning(in *Input) string {
	if in.Account.RiskTolerance != domain.RiskConservative {
		return ""
	}
	var what []string
	if in.Order.Side.IsShort() {
		what = append(what, "short sale")
	}
	switch in.Security.Type {
	case domain.SecurityOption, domain.SecurityFuture, domain.SecurityCrypto:
		what = append(what, string(in.Security.Type))
	}
	if len(what) == 0 {
		return ""
	}
	sort.Strings(what)
	return "suitability: " + strings.Join(what, ", ") + " in a conservative account"
}
