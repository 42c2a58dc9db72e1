package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers match them with errors.Is; the typed errors below
// unwrap to the matching sentinel.
var (
	ErrInvalidOrderParameters  = errors.New("invalid order parameters")
	ErrAccountNotEligible      = errors.New("account not eligible")
	ErrSecurityNotFound        = errors.New("security not found")
	ErrComplianceRejected      = errors.New("compliance rejected")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOverFill                = errors.New("fill exceeds remaining quantity")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	ErrInvalidFill             = errors.New("invalid fill")
	ErrExecutionConflict       = errors.New("execution id already recorded for another order")
	ErrNotFound                = errors.New("not found")
)

// InvalidParams builds an ErrInvalidOrderParameters error with a reason.
func InvalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrderParameters, fmt.Sprintf(format, args...))
}

// ComplianceError is returned when the compliance gate denies an order. It
// carries every failing reason in evaluation order.
type ComplianceError struct {
	Reasons []string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrComplianceRejected, strings.Join(e.Reasons, "; "))
}

func (e *ComplianceError) Unwrap() error { return ErrComplianceRejected }

// TransitionError reports a status change the state machine does not allow.
// Current is the status the order was in when the change was attempted.
type TransitionError struct {
	OrderID string
	Current Status
	Target  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: order %s is %s, cannot move to %s", ErrInvalidStateTransition, e.OrderID, e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// FillError describes a rejected fill. Kind is one of ErrOverFill,
// ErrInvalidFill, ErrExecutionConflict or ErrInsufficientBuyingPower.
type FillError struct {
	Kind        error
	OrderID     string
	ExecutionID string
	Detail      string
}

func (e *FillError) Error() string {
	return fmt.Sprintf("%s: order %s execution %s: %s", e.Kind, e.OrderID, e.ExecutionID, e.Detail)
}

func (e *FillError) Unwrap() error { return e.Kind }
