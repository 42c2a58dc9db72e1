package engine

import (
	"time"

	"tradegate/internal/domain"
)

// checkSession applies the trading-hours policy. The regular session takes
// any order; outside it only extended-hours day orders and gtc orders are
// accepted, and on weekends and holidays only gtc.
func (e *Engine) checkSession(tif domain.TimeInForce, extended bool, now time.Time) error {
	if !e.cal.IsTradingDay(now) {
		if tif == domain.TIFGTC {
			return nil
		}
		return domain.InvalidParams("outside trading hours: market closed on %s, only gtc orders are accepted", e.cal.TradingDate(now))
	}
	if e.cal.IsMarketOpen(now) {
		return nil
	}
	if tif == domain.TIFGTC || (tif == domain.TIFDay && extended) {
		return nil
	}
	return domain.InvalidParams("outside trading hours: only extended-hours day orders or gtc orders are accepted")
}
