// Package domain defines the core types shared across tradegate: orders and
// their lifecycle, executions, positions, the account ledger, security
// reference data, compliance records and the events the engine publishes.
package domain

import "strings"

// Side is the direction of an order.
type Side string

const (
	SideBuy        Side = "buy"
	SideSell       Side = "sell"
	SideSellShort  Side = "sell_short"
	SideBuyToCover Side = "buy_to_cover"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideSellShort, SideBuyToCover:
		return true
	}
	return false
}

// IsBuy reports whether s belongs to the buy family (buy, buy_to_cover).
func (s Side) IsBuy() bool {
	return s == SideBuy || s == SideBuyToCover
}

// IsShort reports whether s opens or extends a short position.
func (s Side) IsShort() bool {
	return s == SideSellShort
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// Valid reports whether t is one of the known time-in-force values.
func (t TimeInForce) Valid() bool {
	switch t {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK:
		return true
	}
	return false
}

// Immediate reports whether the order must execute on arrival or not at all.
func (t TimeInForce) Immediate() bool {
	return t == TIFIOC || t == TIFFOK
}

// SecurityType is the asset class of a security.
type SecurityType string

const (
	SecurityEquity SecurityType = "equity"
	SecurityETF    SecurityType = "etf"
	SecurityOption SecurityType = "option"
	SecurityFuture SecurityType = "future"
	SecurityForex  SecurityType = "forex"
	SecurityCrypto SecurityType = "crypto"
	SecurityBond   SecurityType = "bond"
)

// Valid reports whether t is one of the known security types.
func (t SecurityType) Valid() bool {
	switch t {
	case SecurityEquity, SecurityETF, SecurityOption, SecurityFuture, SecurityForex, SecurityCrypto, SecurityBond:
		return true
	}
	return false
}

// SettlementDays returns the number of business days between trade date and
// settlement date.
func (t SecurityType) SettlementDays() int {
	switch t {
	case SecurityOption, SecurityFuture:
		return 1
	default:
		return 2
	}
}

// KYCStatus is the know-your-customer state of an account.
type KYCStatus string

const (
	KYCApproved KYCStatus = "approved"
	KYCPending  KYCStatus = "pending"
	KYCRejected KYCStatus = "rejected"
)

// RiskTolerance is the suitability profile recorded for an account.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// OptionStrategy describes how an options order is structured.
type OptionStrategy string

const (
	OptionSingle OptionStrategy = "single"
	OptionSpread OptionStrategy = "spread"
)

// Liquidity records whether a fill added or removed liquidity at the venue.
type Liquidity string

const (
	LiquidityAdd    Liquidity = "add"
	LiquidityRemove Liquidity = "remove"
)

// Severity grades a surveillance detection.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Weight returns the contribution of the severity to an alert's risk score.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 0
	}
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
