package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the ledger entry for a trading account. Buying power is derived,
// never stored.
type Account struct {
	ID                string          `json:"id"`
	KYCStatus         KYCStatus       `json:"kyc_status"`
	Cash              decimal.Decimal `json:"cash"`
	MarginBalance     decimal.Decimal `json:"margin_balance"`
	ReservedMargin    decimal.Decimal `json:"reserved_margin"`
	Leverage          decimal.Decimal `json:"leverage"`
	RiskTolerance     RiskTolerance   `json:"risk_tolerance"`
	OptionsLevel      int             `json:"options_level"`
	FuturesApproved   bool            `json:"futures_approved"`
	ForexApproved     bool            `json:"forex_approved"`
	CryptoApproved    bool            `json:"crypto_approved"`
	ShortApproved     bool            `json:"short_approved"`
	PositionLimit     decimal.Decimal `json:"position_limit"`
	DailyLossLimit    decimal.Decimal `json:"daily_loss_limit"`
	DailyRealizedPnL  decimal.Decimal `json:"daily_realized_pnl"`
	WeeklyRealizedPnL decimal.Decimal `json:"weekly_realized_pnl"`
	PnLDate           string          `json:"pnl_date"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BuyingPower is (cash + margin balance - reserved margin) x leverage.
func (a *Account) BuyingPower() decimal.Decimal {
	lev := a.Leverage
	if !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	return a.Cash.Add(a.MarginBalance).Sub(a.ReservedMargin).Mul(lev)
}

// Equity is cash plus margin balance.
func (a *Account) Equity() decimal.Decimal {
	return a.Cash.Add(a.MarginBalance)
}

// Reserve holds amount of buying power for a working order.
func (a *Account) Reserve(amount decimal.Decimal) {
	a.ReservedMargin = a.ReservedMargin.Add(amount)
}

// Release returns amount of reserved buying power, never going below zero.
func (a *Account) Release(amount decimal.Decimal) {
	a.ReservedMargin = a.ReservedMargin.Sub(amount)
	if a.ReservedMargin.IsNegative() {
		a.ReservedMargin = decimal.Zero
	}
}

// RollPnL resets the daily figure when date moves to a new trading day and
// the weekly figure when it moves to a new ISO week.
func (a *Account) RollPnL(date time.Time) {
	day := date.Format(time.DateOnly)
	if a.PnLDate == day {
		return
	}
	if a.PnLDate != "" {
		prev, err := time.Parse(time.DateOnly, a.PnLDate)
		py, pw := prev.ISOWeek()
		cy, cw := date.ISOWeek()
		if err != nil || py != cy || pw != cw {
			a.WeeklyRealizedPnL = decimal.Zero
		}
	}
	a.DailyRealizedPnL = decimal.Zero
	a.PnLDate = day
}

// RecordRealized adds pnl to the daily and weekly totals for date.
func (a *Account) RecordRealized(pnl decimal.Decimal, date time.Time) {
	a.RollPnL(date)
	a.DailyRealizedPnL = a.DailyRealizedPnL.Add(pnl)
	a.WeeklyRealizedPnL = a.WeeklyRealizedPnL.Add(pnl)
}

// Position is an account's signed holding in one security.
type Position struct {
	AccountID   string          `json:"account_id"`
	SecurityID  string          `json:"security_id"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Apply adds a signed quantity delta at price and returns the P&L realized by
// the part of the delta that reduced the position.
func (p *Position) Apply(delta, price decimal.Decimal, at time.Time) decimal.Decimal {
	p.UpdatedAt = at
	old := p.Quantity
	next := old.Add(delta)
	realized := decimal.Zero

	switch {
	case old.IsZero() || old.Sign() == delta.Sign():
		// Opening or adding in the same direction.
		p.AvgCost = old.Mul(p.AvgCost).Add(delta.Mul(price)).Div(next)
	default:
		closed := decimal.Min(old.Abs(), delta.Abs())
		// Long closes gain when price > cost, short closes gain when price < cost.
		realized = price.Sub(p.AvgCost).Mul(closed).Mul(decimal.NewFromInt(int64(old.Sign())))
		switch {
		case next.IsZero():
			p.AvgCost = decimal.Zero
		case next.Sign() != old.Sign():
			p.AvgCost = price
		}
	}

	p.Quantity = next
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	return realized
}

// UnrealizedPnL values the position at mark.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AvgCost).Mul(p.Quantity)
}

// Execution is an immutable fill record.
type Execution struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	AccountID      string          `json:"account_id"`
	SecurityID     string          `json:"security_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Venue          string          `json:"venue"`
	Liquidity      Liquidity       `json:"liquidity"`
	Commission     decimal.Decimal `json:"commission"`
	Fees           decimal.Decimal `json:"fees"`
	ExecutedAt     time.Time       `json:"executed_at"`
	SettlementDate time.Time       `json:"settlement_date"`
}

// CashDelta is the signed effect of the execution on account cash: buys pay
// notional, sells receive it, both pay commission and fees.
func (e *Execution) CashDelta() decimal.Decimal {
	notional := e.Quantity.Mul(e.Price)
	if e.Side.IsBuy() {
		notional = notional.Neg()
	}
	return notional.Sub(e.Commission).Sub(e.Fees)
}

// PositionDelta is the signed quantity change the execution applies.
func (e *Execution) PositionDelta() decimal.Decimal {
	if e.Side.IsBuy() {
		return e.Quantity
	}
	return e.Quantity.Neg()
}
