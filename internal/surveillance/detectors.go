package surveillance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/util"
)

// Params are the detector thresholds.
type Params struct {
	Window             time.Duration
	WashInterval       time.Duration
	WashPriceTolerance decimal.Decimal
	SpoofMinCancels    int
	SpoofVolumeRatio   decimal.Decimal
	LayeringMinOrders  int
	LayeringMinLevels  int
	CloseWindow        time.Duration
	CloseMinTrades     int
}

// ParamsFromConfig converts the surveillance configuration.
func ParamsFromConfig(c config.SurveillanceConfig) Params {
	return Params{
		Window:             c.Window,
		WashInterval:       c.WashInterval,
		WashPriceTolerance: decimal.NewFromFloat(c.WashPriceTolerance),
		SpoofMinCancels:    c.SpoofMinCancels,
		SpoofVolumeRatio:   decimal.NewFromFloat(c.SpoofVolumeRatio),
		LayeringMinOrders:  c.LayeringMinOrders,
		LayeringMinLevels:  c.LayeringMinLevels,
		CloseWindow:        c.CloseWindow,
		CloseMinTrades:     c.CloseMinTrades,
	}
}

// Snapshot is an account's recent activity. Orders and executions are read
// outside the engine's locks, so a snapshot may miss an order committed a
// moment before it was taken.
type Snapshot struct {
	AccountID  string
	Start      time.Time
	End        time.Time
	Orders     []domain.Order
	Executions []domain.Execution
}

// Detector inspects a snapshot for one manipulation pattern.
type Detector func(p Params, cal *util.TradingCalendar, s *Snapshot) []domain.Detection

// Detectors is the battery every scan runs, in reporting order.
var Detectors = []Detector{
	DetectWashTrading,
	DetectSpoofing,
	DetectLayering,
	DetectMarkingTheClose,
}

// Detect runs every detector over s.
func Detect(p Params, cal *util.TradingCalendar, s *Snapshot) []domain.Detection {
	var out []domain.Detection
	for _, fn := range Detectors {
		out = append(out, fn(p, cal, s)...)
	}
	return out
}

// RiskScore is ten points per severity weight, capped at 100.
func RiskScore(ds []domain.Detection) int {
	score := 0
	for _, d := range ds {
		score += d.Severity.Weight() * 10
	}
	return min(score, 100)
}

// RequiresReview reports whether any detection is high severity.
func RequiresReview(ds []domain.Detection) bool {
	for _, d := range ds {
		if d.Severity == domain.SeverityHigh {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Detectors
// ---------------------------------------------------------------------------

// DetectWashTrading pairs buys and sells of the same security executed
// within WashInterval of each other at prices within WashPriceTolerance.
func DetectWashTrading(p Params, _ *util.TradingCalendar, s *Snapshot) []domain.Detection {
	type sides struct{ buys, sells []domain.Execution }
	bySec := make(map[string]*sides)
	for _, e := range s.Executions {
		g := bySec[e.SecurityID]
		if g == nil {
			g = &sides{}
			bySec[e.SecurityID] = g
		}
		if e.Side.IsBuy() {
			g.buys = append(g.buys, e)
		} else {
			g.sells = append(g.sells, e)
		}
	}

	var out []domain.Detection
	for _, sec := range sortedKeys(bySec) {
		g := bySec[sec]
		ids := newIDSet()
		pairs := 0
		for _, b := range g.buys {
			for _, sl := range g.sells {
				if absDuration(b.ExecutedAt.Sub(sl.ExecutedAt)) > p.WashInterval {
					continue
				}
				if !withinTolerance(b.Price, sl.Price, p.WashPriceTolerance) {
					continue
				}
				pairs++
				ids.add(b.OrderID, sl.OrderID)
			}
		}
		if pairs == 0 {
			continue
		}
		out = append(out, domain.Detection{
			Kind:       domain.DetectWashTrading,
			Severity:   domain.SeverityHigh,
			SecurityID: sec,
			OrderIDs:   ids.sorted(),
			Detail:     fmt.Sprintf("%d offsetting buy/sell pairs within %s", pairs, p.WashInterval),
		})
	}
	return out
}

// DetectSpoofing flags a security/side with more than SpoofMinCancels
// cancelled orders whose unfilled volume exceeds SpoofVolumeRatio times the
// volume executed on that side.
func DetectSpoofing(p Params, _ *util.TradingCalendar, s *Snapshot) []domain.Detection {
	type bucket struct {
		cancels   int
		cancelled decimal.Decimal
		executed  decimal.Decimal
		ids       *idSet
	}
	buckets := make(map[secSide]*bucket)
	get := func(k secSide) *bucket {
		b := buckets[k]
		if b == nil {
			b = &bucket{ids: newIDSet()}
			buckets[k] = b
		}
		return b
	}
	for _, o := range s.Orders {
		if o.Status != domain.StatusCancelled {
			continue
		}
		b := get(secSide{o.SecurityID, o.Side})
		b.cancels++
		b.cancelled = b.cancelled.Add(o.Quantity.Sub(o.Filled))
		b.ids.add(o.ID)
	}
	for _, e := range s.Executions {
		if b, ok := buckets[secSide{e.SecurityID, e.Side}]; ok {
			b.executed = b.executed.Add(e.Quantity)
		}
	}

	var out []domain.Detection
	for _, k := range sortedSecSides(buckets) {
		b := buckets[k]
		if b.cancels <= p.SpoofMinCancels {
			continue
		}
		if b.executed.IsPositive() && !b.cancelled.Div(b.executed).GreaterThan(p.SpoofVolumeRatio) {
			continue
		}
		if !b.cancelled.IsPositive() {
			continue
		}
		out = append(out, domain.Detection{
			Kind:       domain.DetectSpoofing,
			Severity:   domain.SeverityHigh,
			SecurityID: k.security,
			Side:       k.side,
			OrderIDs:   b.ids.sorted(),
			Detail:     fmt.Sprintf("%d cancelled orders, cancelled volume %s vs executed %s", b.cancels, b.cancelled, b.executed),
		})
	}
	return out
}

// DetectLayering flags a security/side where at least LayeringMinOrders
// priced orders were live at the same moment across at least
// LayeringMinLevels distinct prices. Orders that were later cancelled count
// as live until their cancel; filled orders stop at their last fill.
func DetectLayering(p Params, _ *util.TradingCalendar, s *Snapshot) []domain.Detection {
	type span struct {
		id         string
		price      decimal.Decimal
		start, end time.Time
	}
	groups := make(map[secSide][]span)
	for _, o := range s.Orders {
		price, ok := domain.LimitPriceOf(o.Type)
		if !ok {
			continue
		}
		if o.Status == domain.StatusRejected || o.Status == domain.StatusPendingSubmit {
			continue
		}
		start := o.SubmittedAt
		if start.IsZero() {
			start = o.CreatedAt
		}
		end := s.End
		switch o.Status {
		case domain.StatusCancelled, domain.StatusExpired:
			end = o.CancelledAt
		case domain.StatusFilled:
			end = o.ExecutedAt
		}
		k := secSide{o.SecurityID, o.Side}
		groups[k] = append(groups[k], span{id: o.ID, price: price, start: start, end: end})
	}

	var out []domain.Detection
	for _, k := range sortedSecSides(groups) {
		spans := groups[k]
		if len(spans) < p.LayeringMinOrders {
			continue
		}
		// The peak overlap always begins at some order's start.
		best := newIDSet()
		bestLevels := 0
		for _, at := range spans {
			live := newIDSet()
			levels := make(map[string]struct{})
			for _, sp := range spans {
				if sp.start.After(at.start) || !sp.end.After(at.start) {
					continue
				}
				live.add(sp.id)
				levels[sp.price.String()] = struct{}{}
			}
			if live.len() >= p.LayeringMinOrders && len(levels) > bestLevels {
				best, bestLevels = live, len(levels)
			}
		}
		if bestLevels < p.LayeringMinLevels {
			continue
		}
		out = append(out, domain.Detection{
			Kind:       domain.DetectLayering,
			Severity:   domain.SeverityMedium,
			SecurityID: k.security,
			Side:       k.side,
			OrderIDs:   best.sorted(),
			Detail:     fmt.Sprintf("%d concurrent orders at %d price levels", best.len(), bestLevels),
		})
	}
	return out
}

// DetectMarkingTheClose flags more than CloseMinTrades executions in one
// security during the last CloseWindow of a regular session.
func DetectMarkingTheClose(p Params, cal *util.TradingCalendar, s *Snapshot) []domain.Detection {
	type key struct{ security, date string }
	counts := make(map[key]int)
	ids := make(map[key]*idSet)
	for _, e := range s.Executions {
		if !cal.IsTradingDay(e.ExecutedAt) {
			continue
		}
		closeAt := cal.SessionClose(e.ExecutedAt)
		if e.ExecutedAt.After(closeAt) || e.ExecutedAt.Before(closeAt.Add(-p.CloseWindow)) {
			continue
		}
		k := key{e.SecurityID, cal.TradingDate(e.ExecutedAt)}
		counts[k]++
		if ids[k] == nil {
			ids[k] = newIDSet()
		}
		ids[k].add(e.OrderID)
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].security < keys[j].security
	})

	var out []domain.Detection
	for _, k := range keys {
		if counts[k] <= p.CloseMinTrades {
			continue
		}
		out = append(out, domain.Detection{
			Kind:       domain.DetectMarkingTheClose,
			Severity:   domain.SeverityMedium,
			SecurityID: k.security,
			OrderIDs:   ids[k].sorted(),
			Detail:     fmt.Sprintf("%d trades in the last %s of %s", counts[k], p.CloseWindow, k.date),
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type secSide struct {
	security string
	side     domain.Side
}

func sortedSecSides[V any](m map[secSide]V) []secSide {
	keys := make([]secSide, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].security != keys[j].security {
			return keys[i].security < keys[j].security
		}
		return keys[i].side < keys[j].side
	})
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type idSet struct{ m map[string]struct{} }

func newIDSet() *idSet { return &idSet{m: make(map[string]struct{})} }

func (s *idSet) add(ids ...string) {
	for _, id := range ids {
		s.m[id] = struct{}{}
	}
}

func (s *idSet) len() int { return len(s.m) }

func (s *idSet) sorted() []string {
	return sortedKeys(s.m)
}

// withinTolerance reports |a-b| <= tol x min(a, b).
func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.Min(a, b).Mul(tol))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
