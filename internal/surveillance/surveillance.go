// Package surveillance scans account activity for market manipulation
// patterns (wash trading, spoofing, layering and marking the close) and
// raises alerts for compliance review.
package surveillance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

// Engine builds snapshots from the store, runs the detectors and records
// alerts. It only reads orders and executions.
type Engine struct {
	store  store.Store
	cal    *util.TradingCalendar
	params Params
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine creates a surveillance Engine. pub may be nil.
func NewEngine(s store.Store, cal *util.TradingCalendar, p Params, pub events.Publisher, log *slog.Logger) *Engine {
	return &Engine{
		store:  s,
		cal:    cal,
		params: p,
		events: pub,
		log:    log.With("component", "surveillance"),
		now:    time.Now,
	}
}

// SetClock replaces the engine's clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Snapshot loads an account's orders and executions for the window ending
// at end. Orders placed before the window are included when they changed
// inside it, so a resting order cancelled in the window still counts.
func (e *Engine) Snapshot(ctx context.Context, accountID string, end time.Time) (*Snapshot, error) {
	start := end.Add(-e.params.Window)
	orders, err := e.store.OrdersTouchedSince(ctx, accountID, start)
	if err != nil {
		return nil, fmt.Errorf("loading orders for %s: %w", accountID, err)
	}
	execs, err := e.store.ExecutionsByAccount(ctx, accountID, start)
	if err != nil {
		return nil, fmt.Errorf("loading executions for %s: %w", accountID, err)
	}
	return &Snapshot{AccountID: accountID, Start: start, End: end, Orders: orders, Executions: execs}, nil
}

// Scan runs the detectors over an account's recent activity. When anything
// is found the alert is persisted, published and returned; otherwise the
// returned alert is nil.
func (e *Engine) Scan(ctx context.Context, accountID string) (*domain.Alert, error) {
	end := e.now().UTC()
	snap, err := e.Snapshot(ctx, accountID, end)
	if err != nil {
		return nil, err
	}

	detections := Detect(e.params, e.cal, snap)
	if len(detections) == 0 {
		e.log.Debug("scan clean", "account_id", accountID, "orders", len(snap.Orders), "executions", len(snap.Executions))
		return nil, nil
	}

	alert := &domain.Alert{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Detections:     detections,
		RiskScore:      RiskScore(detections),
		RequiresReview: RequiresReview(detections),
		WindowStart:    snap.Start,
		WindowEnd:      snap.End,
		CreatedAt:      end,
	}
	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("saving alert for %s: %w", accountID, err)
	}
	e.log.Warn("surveillance alert",
		"alert_id", alert.ID,
		"account_id", accountID,
		"risk_score", alert.RiskScore,
		"requires_review", alert.RequiresReview,
		"detections", len(detections),
	)

	if e.events != nil {
		e.events.Publish(domain.Event{
			Type:      domain.EventComplianceAlert,
			AccountID: accountID,
			Reason:    fmt.Sprintf("%d detections, risk score %d", len(detections), alert.RiskScore),
			Alert:     alert,
			At:        end,
		})
	}
	return alert, nil
}

// ScanActive scans every account with order activity in the window and
// returns the alerts raised. A failing account is logged and skipped.
func (e *Engine) ScanActive(ctx context.Context) ([]domain.Alert, error) {
	accounts, err := e.store.ActiveAccounts(ctx, e.now().Add(-e.params.Window))
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}

	var alerts []domain.Alert
	for _, id := range accounts {
		if err := ctx.Err(); err != nil {
			return alerts, err
		}
		a, err := e.Scan(ctx, id)
		if err != nil {
			e.log.Error("scan failed", "account_id", id, "error", err)
			continue
		}
		if a != nil {
			alerts = append(alerts, *a)
		}
	}
	e.log.Info("surveillance pass complete", "accounts", len(accounts), "alerts", len(alerts))
	return alerts, nil
}
