package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security is the reference record for a tradable instrument.
type Security struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	Type              SecurityType    `json:"type"`
	Restricted        bool            `json:"restricted"`
	Halted            bool            `json:"halted"`
	HardToBorrow      bool            `json:"hard_to_borrow"`
	RegSHOThreshold   bool            `json:"reg_sho_threshold"`
	SSRActive         bool            `json:"ssr_active"`
	OutstandingShares int64           `json:"outstanding_shares"`
	Multiplier        decimal.Decimal `json:"multiplier"`
	UnderlyingSymbol  string          `json:"underlying_symbol,omitempty"`
	InitialMarginRate decimal.Decimal `json:"initial_margin_rate"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ContractMultiplier returns the multiplier, defaulting to 100 for options
// and 1 for everything else when unset.
func (s *Security) ContractMultiplier() decimal.Decimal {
	if s.Multiplier.IsPositive() {
		return s.Multiplier
	}
	if s.Type == SecurityOption {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(1)
}

// Restriction limits trading in a security, firm-wide when AccountID is empty.
// With a holding period, sales are blocked until HoldingMonths have elapsed
// since AcquiredAt.
type Restriction struct {
	ID            int64     `json:"id"`
	SecurityID    string    `json:"security_id"`
	AccountID     string    `json:"account_id,omitempty"`
	Reason        string    `json:"reason"`
	HoldingMonths int       `json:"holding_months,omitempty"`
	AcquiredAt    time.Time `json:"acquired_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HoldingEnds returns the first instant the holding period is satisfied.
// Months are calendar months.
func (r *Restriction) HoldingEnds() time.Time {
	return r.AcquiredAt.AddDate(0, r.HoldingMonths, 0)
}

// Blocks reports whether the restriction stops an order on side at now.
func (r *Restriction) Blocks(side Side, now time.Time) bool {
	if r.HoldingMonths <= 0 {
		return true
	}
	if side.IsBuy() {
		return false
	}
	return now.Before(r.HoldingEnds())
}

// Halt suspends trading in a security. Level 0 is a regulatory or manual
// halt, 1 to 3 are market-wide circuit breaker levels. A zero End lasts for
// the rest of the trading day of Start.
type Halt struct {
	ID         int64     `json:"id"`
	SecurityID string    `json:"security_id"`
	Level      int       `json:"level"`
	Reason     string    `json:"reason"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitempty"`
}

// ActiveAt reports whether the halt is in force at t. loc is the exchange
// time zone used to find the end of the trading day for open-ended halts.
func (h *Halt) ActiveAt(t time.Time, loc *time.Location) bool {
	if t.Before(h.Start) {
		return false
	}
	if !h.End.IsZero() {
		return t.Before(h.End)
	}
	s := h.Start.In(loc)
	endOfDay := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return t.Before(endOfDay)
}
