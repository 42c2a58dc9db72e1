// Package engine is the order lifecycle manager and execution recorder. It
// admits orders through the compliance gate, routes them, applies fills to
// the account ledger and publishes the resulting events.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradegate/internal/broker"
	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/refdata"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

// Deps are the collaborators an Engine needs.
type Deps struct {
	Store    store.Store
	Risk     *RiskManager
	Router   broker.Router
	Resolver *refdata.Resolver
	Events   events.Publisher
	Calendar *util.TradingCalendar
	Trading  config.TradingConfig
	Log      *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates the trading lifecycle: admission, routing, fills,
// cancels and expiry. Changes to one account are serialized; different
// accounts proceed in parallel.
type Engine struct {
	store    store.Store
	risk     *RiskManager
	router   broker.Router
	resolver *refdata.Resolver
	events   events.Publisher
	cal      *util.TradingCalendar
	cfg      config.TradingConfig
	locks    *accountLocks
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(d Deps) *Engine {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    d.Store,
		risk:     d.Risk,
		router:   d.Router,
		resolver: d.Resolver,
		events:   d.Events,
		cal:      d.Calendar,
		cfg:      d.Trading,
		locks:    newAccountLocks(),
		log:      d.Log.With("component", "engine"),
		now:      func() time.Time { return now().UTC() },
	}
}

// SubmitRequest is a client's order instruction.
type SubmitRequest struct {
	AccountID      string
	Symbol         string
	Side           domain.Side
	Type           domain.OrderType
	Quantity       decimal.Decimal
	TimeInForce    domain.TimeInForce
	ExtendedHours  bool
	LocateID       string
	OptionStrategy domain.OptionStrategy
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// Submit validates, gates, persists and routes a new order, filling it on
// arrival when it is marketable. A denied order is not persisted and the
// error is a *domain.ComplianceError. An order the router refuses is
// returned in status rejected with a nil error.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	o, evts, err := e.submit(ctx, req)
	e.publish(evts)
	return o, err
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest) (*domain.Order, []domain.Event, error) {
	acct, err := e.eligibleAccount(ctx, req.AccountID)
	if err != nil {
		return nil, nil, err
	}
	sec, err := e.resolver.Resolve(ctx, req.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if err := validateRequest(&req, sec); err != nil {
		return nil, nil, err
	}
	now := e.now()
	if err := e.checkSession(req.TimeInForce, req.ExtendedHours, now); err != nil {
		return nil, nil, err
	}

	o := &domain.Order{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		SecurityID:     sec.ID,
		Symbol:         sec.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Remaining:      req.Quantity,
		TimeInForce:    req.TimeInForce,
		ExtendedHours:  req.ExtendedHours,
		LocateID:       req.LocateID,
		OptionStrategy: req.OptionStrategy,
		Status:         domain.StatusPendingSubmit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	log := e.log.With("order_id", o.ID, "account_id", o.AccountID, "symbol", o.Symbol)

	unlock := e.locks.lock(acct.ID)
	defer unlock()

	// Admission and reservation commit together; a denial leaves nothing
	// but a circuit breaker halt, which is recorded outside the transaction.
	acct, err = e.store.GetAccount(ctx, acct.ID)
	if err != nil {
		return nil, nil, err
	}
	decision, quote, err := e.risk.Assess(ctx, e.store, acct, sec, o, now)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Admitted() {
		log.Info("order denied", "reasons", decision.Failures())
		return nil, nil, &domain.ComplianceError{Reasons: decision.Failures()}
	}
	if o.Compliance, err = json.Marshal(decision); err != nil {
		return nil, nil, fmt.Errorf("encoding compliance snapshot: %w", err)
	}
	o.ReservedMargin = decision.RequiredMargin
	o.Route = e.decideRoute(o)

	err = e.store.Atomic(ctx, func(tx store.Store) error {
		a, err := tx.GetAccount(ctx, acct.ID)
		if err != nil {
			return err
		}
		a.Reserve(o.ReservedMargin)
		a.UpdatedAt = now
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.SaveAccount(ctx, a)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("persisting order: %w", err)
	}
	log.Info("order admitted", "status", o.Status, "reserved", o.ReservedMargin, "warnings", decision.Warnings)

	ref, routeErr := e.router.Route(ctx, o)
	if routeErr != nil {
		log.Warn("routing failed", "router", e.router.Name(), "error", routeErr)
		if err := e.reject(ctx, o, "routing failed: "+routeErr.Error()); err != nil {
			return nil, nil, err
		}
		return o, nil, nil
	}

	o.Route.VenueRef = ref
	if err := e.transition(o, domain.StatusSubmitted, e.now()); err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, nil, err
	}

	evts := []domain.Event{{
		Type:       domain.EventOrderSubmitted,
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		SecurityID: o.SecurityID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		At:         o.SubmittedAt,
	}}

	if executesOnArrival(o, quote) {
		res, fillEvts, err := e.recordFillLocked(ctx, o, e.syntheticFill(o, quote.Last))
		evts = append(evts, fillEvts...)
		if err != nil {
			if cur, gerr := e.store.GetOrder(ctx, o.ID); gerr == nil {
				o = cur
			}
			return o, evts, err
		}
		o = &res.Order
	}
	return o, evts, nil
}

// eligibleAccount returns the account when it exists and passed KYC.
func (e *Engine) eligibleAccount(ctx context.Context, id string) (*domain.Account, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("account %s does not exist: %w", id, domain.ErrAccountNotEligible)
	}
	if err != nil {
		return nil, err
	}
	if acct.KYCStatus != domain.KYCApproved {
		return nil, fmt.Errorf("account %s KYC status is %s: %w", id, acct.KYCStatus, domain.ErrAccountNotEligible)
	}
	return acct, nil
}

// validateRequest checks the order parameters against the resolved security.
func validateRequest(req *SubmitRequest, sec *domain.Security) error {
	if !req.Side.Valid() {
		return domain.InvalidParams("unknown side %q", req.Side)
	}
	if !req.TimeInForce.Valid() {
		return domain.InvalidParams("unknown time in force %q", req.TimeInForce)
	}
	if !req.Quantity.IsPositive() {
		return domain.InvalidParams("quantity must be positive")
	}
	if err := domain.ValidateOrderType(req.Type, req.Quantity); err != nil {
		return err
	}
	if req.LocateID != "" && !req.Side.IsShort() {
		return domain.InvalidParams("locate id is only allowed on short sales")
	}
	switch {
	case sec.Type == domain.SecurityOption && req.OptionStrategy == "":
		req.OptionStrategy = domain.OptionSingle
	case sec.Type != domain.SecurityOption && req.OptionStrategy != "":
		return domain.InvalidParams("option strategy on a %s order", sec.Type)
	case req.OptionStrategy != "" && req.OptionStrategy != domain.OptionSingle && req.OptionStrategy != domain.OptionSpread:
		return domain.InvalidParams("unknown option strategy %q", req.OptionStrategy)
	}
	return nil
}

// reject moves a persisted order to rejected and gives back its reservation.
func (e *Engine) reject(ctx context.Context, o *domain.Order, reason string) error {
	return e.store.Atomic(ctx, func(tx store.Store) error {
		return e.closeOrder(ctx, tx, o, domain.StatusRejected, reason)
	})
}

// closeOrder moves o to a closing status (cancelled, rejected, expired) and
// releases whatever reservation it still holds. It runs inside a transaction.
func (e *Engine) closeOrder(ctx context.Context, tx store.Store, o *domain.Order, to domain.Status, reason string) error {
	now := e.now()
	if err := e.transition(o, to, now); err != nil {
		return err
	}
	o.CancelReason = reason
	release := o.ReservedMargin
	o.ReservedMargin = decimal.Zero
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}
	if release.IsZero() {
		return nil
	}
	a, err := tx.GetAccount(ctx, o.AccountID)
	if err != nil {
		return err
	}
	a.Release(release)
	a.UpdatedAt = now
	return tx.SaveAccount(ctx, a)
}

// ---------------------------------------------------------------------------
// Cancel, accept, operator resolution, expiry
// ---------------------------------------------------------------------------

// Cancel cancels a working order and releases its reservation, then asks
// the venue to cancel. The venue call is best effort.
func (e *Engine) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	o, err := e.withOrder(ctx, orderID, func(tx store.Store, o *domain.Order) error {
		if !o.Status.Cancellable() {
			return &domain.TransitionError{OrderID: o.ID, Current: o.Status, Target: domain.StatusCancelled}
		}
		if reason == "" {
			reason = "client request"
		}
		return e.closeOrder(ctx, tx, o, domain.StatusCancelled, reason)
	})
	if err != nil {
		return nil, err
	}

	e.publish([]domain.Event{{
		Type:       domain.EventOrderCancelled,
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		SecurityID: o.SecurityID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Filled:     o.Filled,
		Reason:     o.CancelReason,
		At:         o.CancelledAt,
	}})

	if o.Route.VenueRef != "" {
		if err := e.router.Cancel(ctx, o); err != nil {
			e.log.Warn("venue cancel failed", "order_id", o.ID, "router", e.router.Name(), "error", err)
		}
	}
	return o, nil
}

// Accept records the venue's acknowledgement of a submitted order.
func (e *Engine) Accept(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.withOrder(ctx, orderID, func(tx store.Store, o *domain.Order) error {
		if err := e.transition(o, domain.StatusPending, e.now()); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, o)
	})
}

// ResolveReconciliation closes an order held in reconciliation_pending after
// an operator has reconciled it with the venue. to must be rejected or
// cancelled.
func (e *Engine) ResolveReconciliation(ctx context.Context, orderID string, to domain.Status, note string) (*domain.Order, error) {
	return e.withOrder(ctx, orderID, func(tx store.Store, o *domain.Order) error {
		if o.Status != domain.StatusReconciliationPending {
			return &domain.TransitionError{OrderID: o.ID, Current: o.Status, Target: to}
		}
		if to != domain.StatusRejected && to != domain.StatusCancelled {
			return domain.InvalidParams("reconciliation must end in rejected or cancelled, not %s", to)
		}
		return e.closeOrder(ctx, tx, o, to, "reconciled: "+note)
	})
}

// ExpireDayOrders expires every working day order whose session has closed
// by now and returns how many were expired.
func (e *Engine) ExpireDayOrders(ctx context.Context, now time.Time) (int, error) {
	working, err := e.store.OrdersByStatus(ctx,
		domain.StatusPendingSubmit, domain.StatusSubmitted, domain.StatusPending, domain.StatusPartiallyFilled)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, w := range working {
		if w.TimeInForce != domain.TIFDay || now.Before(e.cal.NextClose(w.CreatedAt)) {
			continue
		}
		o, err := e.withOrder(ctx, w.ID, func(tx store.Store, o *domain.Order) error {
			if o.Status.Terminal() || o.Status == domain.StatusReconciliationPending {
				return errSkip
			}
			return e.closeOrder(ctx, tx, o, domain.StatusExpired, "day order expired")
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expiring order %s: %w", w.ID, err)
		}
		expired++
		e.publish([]domain.Event{{
			Type:       domain.EventOrderExpired,
			OrderID:    o.ID,
			AccountID:  o.AccountID,
			SecurityID: o.SecurityID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Filled:     o.Filled,
			Reason:     o.CancelReason,
			At:         o.CancelledAt,
		}})
	}
	if expired > 0 {
		e.log.Info("day orders expired", "count", expired)
	}
	return expired, nil
}

var errSkip = errors.New("skip")

// withOrder loads an order, takes its account's lock and runs fn in a
// transaction against a fresh copy of the order.
func (e *Engine) withOrder(ctx context.Context, orderID string, fn func(tx store.Store, o *domain.Order) error) (*domain.Order, error) {
	o, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(o.AccountID)
	defer unlock()

	var out *domain.Order
	err = e.store.Atomic(ctx, func(tx store.Store) error {
		cur, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transition changes o's status and logs the move.
func (e *Engine) transition(o *domain.Order, to domain.Status, at time.Time) error {
	from := o.Status
	if err := o.Transition(to, at); err != nil {
		e.log.Warn("transition refused", "order_id", o.ID, "from", from, "to", to)
		return err
	}
	e.log.Info("order transition", "order_id", o.ID, "from", from, "to", to)
	return nil
}

func (e *Engine) publish(evts []domain.Event) {
	if e.events != nil && len(evts) > 0 {
		e.events.Publish(evts...)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Order returns an order by ID.
func (e *Engine) Order(ctx context.Context, id string) (*domain.Order, error) {
	o, err := e.store.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	return o, err
}

// OrdersByAccount returns an account's orders created at or after since.
func (e *Engine) OrdersByAccount(ctx context.Context, accountID string, since time.Time) ([]domain.Order, error) {
	return e.store.OrdersByAccount(ctx, accountID, since)
}

// Executions returns the fills of an order.
func (e *Engine) Executions(ctx context.Context, orderID string) ([]domain.Execution, error) {
	if _, err := e.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return e.store.ExecutionsByOrder(ctx, orderID)
}

// Positions returns an account's positions.
func (e *Engine) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	return e.store.PositionsByAccount(ctx, accountID)
}

// Account returns an account's ledger entry.
func (e *Engine) Account(ctx context.Context, id string) (*domain.Account, error) {
	return e.store.GetAccount(ctx, id)
}
