package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPendingSubmit         Status = "pending_submit"
	StatusSubmitted             Status = "submitted"
	StatusPending               Status = "pending"
	StatusPartiallyFilled       Status = "partially_filled"
	StatusFilled                Status = "filled"
	StatusCancelled             Status = "cancelled"
	StatusRejected              Status = "rejected"
	StatusExpired               Status = "expired"
	StatusReconciliationPending Status = "reconciliation_pending"
)

// transitions lists every allowed move. Anything absent is refused.
var transitions = map[Status][]Status{
	StatusPendingSubmit:         {StatusSubmitted, StatusCancelled, StatusRejected, StatusExpired},
	StatusSubmitted:             {StatusPending, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReconciliationPending},
	StatusPending:               {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReconciliationPending},
	StatusPartiallyFilled:       {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReconciliationPending},
	StatusReconciliationPending: {StatusCancelled, StatusRejected},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Cancellable reports whether a client cancel request is accepted in s.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPendingSubmit, StatusSubmitted, StatusPending, StatusPartiallyFilled:
		return true
	}
	return false
}

// Fillable reports whether a venue fill may be applied in s. Cancelled orders
// still take late fills for the quantity the venue executed before the cancel.
func (s Status) Fillable() bool {
	switch s {
	case StatusSubmitted, StatusPending, StatusPartiallyFilled, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is a client instruction to trade a security.
type Order struct {
	ID             string
	AccountID      string
	SecurityID     string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Filled         decimal.Decimal
	Remaining      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	TimeInForce    TimeInForce
	ExtendedHours  bool
	LocateID       string
	OptionStrategy OptionStrategy
	Status         Status
	Route          Route
	ReservedMargin decimal.Decimal
	CancelReason   string
	Compliance     json.RawMessage
	CreatedAt      time.Time
	SubmittedAt    time.Time
	ExecutedAt     time.Time
	CancelledAt    time.Time
	UpdatedAt      time.Time
}

// Route is where the order was sent.
type Route struct {
	Strategy string   `json:"strategy"`
	Venues   []string `json:"venues"`
	VenueRef string   `json:"venue_ref,omitempty"`
}

// Transition moves the order to next, stamping the matching timestamp.
func (o *Order) Transition(next Status, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return &TransitionError{OrderID: o.ID, Current: o.Status, Target: next}
	}
	o.Status = next
	o.UpdatedAt = at
	switch next {
	case StatusSubmitted:
		o.SubmittedAt = at
	case StatusCancelled, StatusExpired, StatusRejected:
		o.CancelledAt = at
	}
	return nil
}

// ApplyFill adds qty at price to the fill totals and returns the status the
// order should move to. The order's status itself is left for the caller so
// late fills on cancelled orders can keep their status.
func (o *Order) ApplyFill(qty, price decimal.Decimal, at time.Time) (Status, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return o.Status, &FillError{Kind: ErrInvalidFill, OrderID: o.ID, Detail: "quantity and price must be positive"}
	}
	if qty.GreaterThan(o.Remaining) {
		return o.Status, &FillError{Kind: ErrOverFill, OrderID: o.ID, Detail: "fill " + qty.String() + " > remaining " + o.Remaining.String()}
	}
	filled := o.Filled.Add(qty)
	o.AvgFillPrice = o.AvgFillPrice.Mul(o.Filled).Add(price.Mul(qty)).Div(filled)
	o.Filled = filled
	o.Remaining = o.Quantity.Sub(filled)
	o.ExecutedAt = at
	o.UpdatedAt = at
	if filled.GreaterThanOrEqual(o.Quantity) {
		return StatusFilled, nil
	}
	return StatusPartiallyFilled, nil
}

// Notional returns the order value at price.
func (o *Order) Notional(price decimal.Decimal) decimal.Decimal {
	return o.Quantity.Mul(price)
}
