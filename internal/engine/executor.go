package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

// FillRequest is a venue execution report for one order.
type FillRequest struct {
	// ExecutionID is the idempotency key. A fresh one is generated when empty.
	ExecutionID string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Venue       string
	Liquidity   domain.Liquidity
	Commission  decimal.Decimal
	Fees        decimal.Decimal
	// ExecutedAt defaults to the engine clock.
	ExecutedAt time.Time
}

// FillResult is the outcome of RecordFill.
type FillResult struct {
	Execution domain.Execution
	Order     domain.Order
	Position  domain.Position
	// Duplicate is set when the execution ID had already been recorded and
	// nothing was applied.
	Duplicate bool
}

// RecordFill applies a venue fill to an order, its position and the account
// ledger in one transaction. Replaying an execution ID is a no-op that
// returns the stored execution. Over-fills, fills for unknown orders, fills
// reusing another order's execution ID and fills that would drive buying
// power negative are recorded as anomalies for operators and never retried.
func (e *Engine) RecordFill(ctx context.Context, orderID string, req FillRequest) (*FillResult, error) {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		evts := e.anomaly(ctx, domain.AnomalyUnknownOrder, &domain.Order{ID: orderID}, req.ExecutionID,
			fmt.Sprintf("fill %s@%s for unknown order", req.Quantity, req.Price))
		e.publish(evts)
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(o.AccountID)
	defer unlock()

	res, evts, err := e.recordFillLocked(ctx, o, req)
	e.publish(evts)
	return res, err
}

// recordFillLocked is RecordFill for a caller already holding the account
// lock. It re-reads the order so a cancel that won the lock is observed.
func (e *Engine) recordFillLocked(ctx context.Context, o *domain.Order, req FillRequest) (*FillResult, []domain.Event, error) {
	if req.ExecutedAt.IsZero() {
		req.ExecutedAt = e.now()
	}
	req.ExecutedAt = req.ExecutedAt.UTC()

	if prev, err := e.store.GetExecution(ctx, req.ExecutionID); err == nil {
		if prev.OrderID != o.ID {
			detail := fmt.Sprintf("execution id already recorded for order %s", prev.OrderID)
			evts := e.anomaly(ctx, domain.AnomalyExecutionIDConflict, o, req.ExecutionID, detail)
			return nil, evts, &domain.FillError{Kind: domain.ErrExecutionConflict, OrderID: o.ID, ExecutionID: req.ExecutionID, Detail: detail}
		}
		return e.duplicate(ctx, prev)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	cur, err := e.store.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, nil, err
	}
	log := e.log.With("order_id", cur.ID, "execution_id", req.ExecutionID)

	if !cur.Status.Fillable() {
		log.Error("fill on non-fillable order", "status", cur.Status)
		evts := e.anomaly(ctx, domain.AnomalyFillOnTerminalOrder, cur, req.ExecutionID,
			fmt.Sprintf("fill %s@%s while order is %s", req.Quantity, req.Price, cur.Status))
		return nil, evts, &domain.TransitionError{OrderID: cur.ID, Current: cur.Status, Target: domain.StatusFilled}
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return nil, nil, &domain.FillError{Kind: domain.ErrInvalidFill, OrderID: cur.ID, ExecutionID: req.ExecutionID,
			Detail: "quantity and price must be positive"}
	}
	if req.Quantity.GreaterThan(cur.Remaining) {
		detail := fmt.Sprintf("fill %s > remaining %s", req.Quantity, cur.Remaining)
		log.Error("over-fill", "quantity", req.Quantity, "remaining", cur.Remaining)
		evts := e.anomaly(ctx, domain.AnomalyOverFill, cur, req.ExecutionID, detail)
		return nil, evts, &domain.FillError{Kind: domain.ErrOverFill, OrderID: cur.ID, ExecutionID: req.ExecutionID, Detail: detail}
	}

	exec := domain.Execution{
		ID:         req.ExecutionID,
		OrderID:    cur.ID,
		AccountID:  cur.AccountID,
		SecurityID: cur.SecurityID,
		Symbol:     cur.Symbol,
		Side:       cur.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Venue:      req.Venue,
		Liquidity:  req.Liquidity,
		Commission: req.Commission,
		Fees:       req.Fees,
		ExecutedAt: req.ExecutedAt,
	}
	if exec.Venue == "" && len(cur.Route.Venues) > 0 {
		exec.Venue = cur.Route.Venues[0]
	}
	if exec.Liquidity == "" {
		exec.Liquidity = domain.LiquidityRemove
	}
	settleDays := domain.SecurityEquity.SettlementDays()
	if sec, err := e.store.GetSecurity(ctx, cur.SecurityID); err == nil {
		settleDays = sec.Type.SettlementDays()
	}
	exec.SettlementDate = e.cal.AddBusinessDays(exec.ExecutedAt, settleDays)

	var (
		res      FillResult
		shortBP  bool
		bpDetail string
	)
	err = e.store.Atomic(ctx, func(tx store.Store) error {
		acct, err := tx.GetAccount(ctx, cur.AccountID)
		if err != nil {
			return err
		}
		pos, err := tx.GetPosition(ctx, cur.AccountID, cur.SecurityID)
		if errors.Is(err, domain.ErrNotFound) {
			pos = &domain.Position{AccountID: cur.AccountID, SecurityID: cur.SecurityID, Symbol: cur.Symbol}
		} else if err != nil {
			return err
		}

		// Work on copies so a refused fill leaves nothing behind.
		order := *cur
		remainingBefore := order.Remaining
		next, err := order.ApplyFill(exec.Quantity, exec.Price, exec.ExecutedAt)
		if err != nil {
			return err
		}

		release := order.ReservedMargin
		if next != domain.StatusFilled && remainingBefore.IsPositive() {
			release = order.ReservedMargin.Mul(exec.Quantity).Div(remainingBefore)
		}
		order.ReservedMargin = order.ReservedMargin.Sub(release)

		ledger := *acct
		ledger.Release(release)
		ledger.Cash = ledger.Cash.Add(exec.CashDelta())
		position := *pos
		realized := position.Apply(exec.PositionDelta(), exec.Price, exec.ExecutedAt)
		ledger.RecordRealized(realized, exec.ExecutedAt.In(e.cal.Location()))
		ledger.UpdatedAt = exec.ExecutedAt

		if ledger.BuyingPower().IsNegative() {
			shortBP = true
			bpDetail = fmt.Sprintf("buying power would be %s after fill %s@%s", ledger.BuyingPower().StringFixed(2), exec.Quantity, exec.Price)
			return nil
		}

		if order.Status != domain.StatusCancelled {
			if err := e.transition(&order, next, exec.ExecutedAt); err != nil {
				return err
			}
		}
		if err := tx.InsertExecution(ctx, &exec); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, &position); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, &ledger); err != nil {
			return err
		}
		res = FillResult{Execution: exec, Order: order, Position: position}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("recording fill %s: %w", exec.ID, err)
	}

	if shortBP {
		log.Error("fill breaks buying power", "detail", bpDetail)
		if !cur.Status.Terminal() {
			if err := e.transition(cur, domain.StatusReconciliationPending, e.now()); err != nil {
				return nil, nil, err
			}
			if err := e.store.UpdateOrder(ctx, cur); err != nil {
				return nil, nil, err
			}
		}
		evts := e.anomaly(ctx, domain.AnomalyInsufficientFunds, cur, exec.ID, bpDetail)
		return nil, evts, &domain.FillError{Kind: domain.ErrInsufficientBuyingPower, OrderID: cur.ID, ExecutionID: exec.ID, Detail: bpDetail}
	}

	log.Info("fill recorded", "quantity", exec.Quantity, "price", exec.Price,
		"filled", res.Order.Filled, "status", res.Order.Status)
	evt := domain.Event{
		Type:        domain.EventOrderExecuted,
		OrderID:     res.Order.ID,
		AccountID:   res.Order.AccountID,
		SecurityID:  res.Order.SecurityID,
		Symbol:      res.Order.Symbol,
		Side:        res.Order.Side,
		Quantity:    exec.Quantity,
		Price:       exec.Price,
		Filled:      res.Order.Filled,
		FullyFilled: res.Order.Remaining.IsZero(),
		At:          exec.ExecutedAt,
	}
	return &res, []domain.Event{evt}, nil
}

// duplicate builds the result for an execution that was already recorded.
func (e *Engine) duplicate(ctx context.Context, prev *domain.Execution) (*FillResult, []domain.Event, error) {
	res := &FillResult{Execution: *prev, Duplicate: true}
	o, err := e.store.GetOrder(ctx, prev.OrderID)
	if err != nil {
		return nil, nil, err
	}
	res.Order = *o
	if p, err := e.store.GetPosition(ctx, prev.AccountID, prev.SecurityID); err == nil {
		res.Position = *p
	}
	e.log.Info("duplicate fill ignored", "order_id", prev.OrderID, "execution_id", prev.ID)
	return res, nil, nil
}

// anomaly persists an execution anomaly and returns the operator event for
// it. A failure to persist is logged; the event is still emitted.
func (e *Engine) anomaly(ctx context.Context, kind domain.AnomalyKind, o *domain.Order, executionID, detail string) []domain.Event {
	a := &domain.Anomaly{
		ID:          uuid.NewString(),
		Kind:        kind,
		OrderID:     o.ID,
		AccountID:   o.AccountID,
		ExecutionID: executionID,
		Detail:      detail,
		CreatedAt:   e.now(),
	}
	e.log.Error("execution anomaly", "kind", kind, "order_id", o.ID, "execution_id", executionID, "detail", detail)
	if err := e.store.InsertAnomaly(ctx, a); err != nil {
		e.log.Error("persisting anomaly", "anomaly_id", a.ID, "error", err)
	}
	return []domain.Event{{
		Type:      domain.EventExecutionAnomaly,
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Reason:    detail,
		Anomaly:   a,
		At:        a.CreatedAt,
	}}
}

// syntheticFill prices an on-arrival fill at the reference price, charging
// the configured commission and, on sales, the SEC fee.
func (e *Engine) syntheticFill(o *domain.Order, price decimal.Decimal) FillRequest {
	qty := o.Remaining
	commission := decimal.NewFromFloat(e.cfg.Commission.PerShare).Mul(qty)
	if floor := decimal.NewFromFloat(e.cfg.Commission.Minimum); commission.LessThan(floor) {
		commission = floor
	}
	fees := decimal.Zero
	if !o.Side.IsBuy() && e.cfg.SECFeeRate > 0 {
		fees = qty.Mul(price).Mul(decimal.NewFromFloat(e.cfg.SECFeeRate)).Round(2)
	}
	venue := ""
	if len(o.Route.Venues) > 0 {
		venue = o.Route.Venues[0]
	}
	return FillRequest{
		ExecutionID: uuid.NewString(),
		Quantity:    qty,
		Price:       price,
		Venue:       venue,
		Liquidity:   domain.LiquidityRemove,
		Commission:  commission.Round(2),
		Fees:        fees,
		ExecutedAt:  e.now(),
	}
}
