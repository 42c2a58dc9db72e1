package util

import (
	"fmt"
	"time"
	_ "time/tzdata" // Exchange time zone must resolve on minimal hosts.
)

// Regular US equity session in exchange time.
const (
	sessionOpenHour, sessionOpenMinute   = 9, 30
	sessionCloseHour, sessionCloseMinute = 16, 0
)

// TradingCalendar answers session and business-day questions for the US
// equity market in its exchange time zone.
type TradingCalendar struct {
	loc      *time.Location
	holidays map[string]bool // "2006-01-02" in exchange time
}

// NewTradingCalendar creates a calendar for the IANA zone tz (default
// America/New_York) with the given full-day holidays ("2006-01-02").
func NewTradingCalendar(tz string, holidays []string) (*TradingCalendar, error) {
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", tz, err)
	}
	tc := &TradingCalendar{loc: loc, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		if _, err := time.ParseInLocation(time.DateOnly, h, loc); err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", h, err)
		}
		tc.holidays[h] = true
	}
	return tc, nil
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// TradingDate returns t's calendar date in exchange time.
func (tc *TradingCalendar) TradingDate(t time.Time) string {
	return t.In(tc.loc).Format(time.DateOnly)
}

// IsWeekend reports whether t falls on Saturday or Sunday in exchange time.
func (tc *TradingCalendar) IsWeekend(t time.Time) bool {
	wd := t.In(tc.loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsHoliday reports whether t's exchange date is a configured holiday.
func (tc *TradingCalendar) IsHoliday(t time.Time) bool {
	return tc.holidays[tc.TradingDate(t)]
}

// IsTradingDay reports whether the market opens on t's exchange date.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	return !tc.IsWeekend(t) && !tc.IsHoliday(t)
}

// SessionOpen returns the regular-session open on t's exchange date.
func (tc *TradingCalendar) SessionOpen(t time.Time) time.Time {
	l := t.In(tc.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), sessionOpenHour, sessionOpenMinute, 0, 0, tc.loc)
}

// SessionClose returns the regular-session close on t's exchange date.
func (tc *TradingCalendar) SessionClose(t time.Time) time.Time {
	l := t.In(tc.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), sessionCloseHour, sessionCloseMinute, 0, 0, tc.loc)
}

// IsMarketOpen returns whether the regular session is open at t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	return !t.Before(tc.SessionOpen(t)) && t.Before(tc.SessionClose(t))
}

// NextOpen returns the next regular-session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	day := tc.StartOfDay(t)
	for i := 0; i < 15; i++ {
		if tc.IsTradingDay(day) {
			open := tc.SessionOpen(day)
			if !open.Before(t) {
				return open
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// NextClose returns the next regular-session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	day := tc.StartOfDay(t)
	for i := 0; i < 15; i++ {
		if tc.IsTradingDay(day) {
			closeAt := tc.SessionClose(day)
			if !closeAt.Before(t) {
				return closeAt
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// AddBusinessDays returns midnight (exchange time) of the date n trading days
// after t, skipping weekends and holidays.
func (tc *TradingCalendar) AddBusinessDays(t time.Time, n int) time.Time {
	day := tc.StartOfDay(t)
	for n > 0 {
		day = day.AddDate(0, 0, 1)
		if tc.IsTradingDay(day) {
			n--
		}
	}
	return day
}

// BusinessWindowStart returns midnight of the earliest day in the window of
// the last n trading days ending on t's date (t's date counts when it is a
// trading day).
func (tc *TradingCalendar) BusinessWindowStart(t time.Time, n int) time.Time {
	day := tc.StartOfDay(t)
	counted := 0
	for i := 0; i < n*3+10; i++ {
		if tc.IsTradingDay(day) {
			counted++
			if counted == n {
				return day
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// StartOfDay returns midnight of t's exchange date.
func (tc *TradingCalendar) StartOfDay(t time.Time) time.Time {
	l := t.In(tc.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, tc.loc)
}
