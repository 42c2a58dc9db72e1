package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies a published event.
type EventType string

const (
	EventOrderSubmitted   EventType = "order:submitted"
	EventOrderCancelled   EventType = "order:cancelled"
	EventOrderExecuted    EventType = "order:executed"
	EventOrderExpired     EventType = "order:expired"
	EventComplianceAlert  EventType = "compliance:alert"
	EventExecutionAnomaly EventType = "execution:anomaly"
)

// Event is an outbound record produced by an engine operation. Operations
// return their events as data; a dispatcher delivers them after commit.
type Event struct {
	// Seq is assigned by the dispatcher on publish and increases by one per
	// event.
	Seq         uint64          `json:"seq,omitempty"`
	Type        EventType       `json:"type"`
	OrderID     string          `json:"order_id,omitempty"`
	AccountID   string          `json:"account_id,omitempty"`
	SecurityID  string          `json:"security_id,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Side        Side            `json:"side,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Filled      decimal.Decimal `json:"filled"`
	FullyFilled bool            `json:"fully_filled,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Alert       *Alert          `json:"alert,omitempty"`
	Anomaly     *Anomaly        `json:"anomaly,omitempty"`
	At          time.Time       `json:"at"`
}
