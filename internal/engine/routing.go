package engine

import (
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/marketdata"
)

// Routing strategies.
const (
	StrategyDirect  = "direct"
	StrategyIceberg = "iceberg"
)

// decideRoute sends large orders and iceberg orders across every configured
// venue and everything else straight to the default venue.
func (e *Engine) decideRoute(o *domain.Order) domain.Route {
	_, iceberg := o.Type.(domain.Iceberg)
	large := o.Quantity.GreaterThanOrEqual(decimal.NewFromFloat(e.cfg.LargeOrderThreshold))
	if (iceberg || large) && len(e.cfg.Venues) > 0 {
		return domain.Route{Strategy: StrategyIceberg, Venues: append([]string(nil), e.cfg.Venues...)}
	}
	return domain.Route{Strategy: StrategyDirect, Venues: []string{e.cfg.DefaultVenue}}
}

// executesOnArrival reports whether the order fills immediately at the
// reference price: market orders always, ioc/fok limit orders when the limit
// crosses the quote (buy at or above the ask, sell at or below the bid).
func executesOnArrival(o *domain.Order, q marketdata.Quote) bool {
	if !q.Last.IsPositive() {
		return false
	}
	switch t := o.Type.(type) {
	case domain.Market:
		return true
	case domain.Limit:
		if !o.TimeInForce.Immediate() {
			return false
		}
		if o.Side.IsBuy() {
			return t.Price.GreaterThanOrEqual(q.BestAsk())
		}
		return t.Price.LessThanOrEqual(q.BestBid())
	}
	return false
}
