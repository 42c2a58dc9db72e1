package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleResult is the outcome of one compliance check.
type RuleResult struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Decision is the gate's verdict on an order. It is stored with the order as
// its compliance snapshot.
type Decision struct {
	Results        []RuleResult    `json:"results"`
	Warnings       []string        `json:"warnings,omitempty"`
	RequiredMargin decimal.Decimal `json:"required_margin"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
}

// Admitted reports whether every rule passed.
func (d *Decision) Admitted() bool {
	for _, r := range d.Results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failures returns "rule: reason" for each failing rule in evaluation order.
func (d *Decision) Failures() []string {
	var out []string
	for _, r := range d.Results {
		if !r.Passed {
			out = append(out, r.Rule+": "+r.Reason)
		}
	}
	return out
}

// DetectionKind names a manipulation pattern.
type DetectionKind string

const (
	DetectWashTrading     DetectionKind = "wash_trading"
	DetectSpoofing        DetectionKind = "spoofing"
	DetectLayering        DetectionKind = "layering"
	DetectMarkingTheClose DetectionKind = "marking_the_close"
)

// Detection is one surveillance finding.
type Detection struct {
	Kind       DetectionKind `json:"kind"`
	Severity   Severity      `json:"severity"`
	SecurityID string        `json:"security_id"`
	Side       Side          `json:"side,omitempty"`
	OrderIDs   []string      `json:"order_ids,omitempty"`
	Detail     string        `json:"detail"`
}

// Alert is the persisted result of a surveillance scan that found something.
type Alert struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	Detections     []Detection `json:"detections"`
	RiskScore      int         `json:"risk_score"`
	RequiresReview bool        `json:"requires_review"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AnomalyKind classifies execution anomalies raised to operators.
type AnomalyKind string

const (
	AnomalyOverFill            AnomalyKind = "over_fill"
	AnomalyUnknownOrder        AnomalyKind = "unknown_order"
	AnomalyInsufficientFunds   AnomalyKind = "insufficient_buying_power"
	AnomalyFillOnTerminalOrder AnomalyKind = "fill_on_terminal_order"
	AnomalyExecutionIDConflict AnomalyKind = "execution_id_conflict"
)

// Anomaly is an execution inconsistency between the engine and a venue that
// needs manual reconciliation. Anomalies are never retried automatically.
type Anomaly struct {
	ID          string      `json:"id"`
	Kind        AnomalyKind `json:"kind"`
	OrderID     string      `json:"order_id"`
	AccountID   string      `json:"account_id,omitempty"`
	ExecutionID string      `json:"execution_id,omitempty"`
	Detail      string      `json:"detail"`
	CreatedAt   time.Time   `json:"created_at"`
}
