package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/domain"
)

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, account_id, security_id, symbol, side, order_type, quantity, filled,
	remaining, avg_fill_price, time_in_force, extended_hours, locate_id, option_strategy,
	status, route, reserved_margin, cancel_reason, compliance, created_at, submitted_at,
	executed_at, cancelled_at, updated_at`

func orderArgs(o *domain.Order) ([]any, error) {
	spec, err := json.Marshal(domain.SpecOf(o.Type))
	if err != nil {
		return nil, fmt.Errorf("encoding order type: %w", err)
	}
	route, err := json.Marshal(o.Route)
	if err != nil {
		return nil, fmt.Errorf("encoding route: %w", err)
	}
	compliance := string(o.Compliance)
	if compliance == "" {
		compliance = "{}"
	}
	return []any{
		o.ID, o.AccountID, o.SecurityID, o.Symbol, string(o.Side), string(spec), o.Quantity, o.Filled,
		o.Remaining, o.AvgFillPrice, string(o.TimeInForce), o.ExtendedHours, o.LocateID, string(o.OptionStrategy),
		string(o.Status), string(route), o.ReservedMargin, o.CancelReason, compliance, toNanos(o.CreatedAt), toNanos(o.SubmittedAt),
		toNanos(o.ExecutedAt), toNanos(o.CancelledAt), toNanos(o.UpdatedAt),
	}, nil
}

// InsertOrder adds a new order.
func (s *SQLiteStore) InsertOrder(ctx context.Context, o *domain.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (`+placeholders(len(args))+`)`, args...); err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrder persists the mutable fields of an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	route, err := json.Marshal(o.Route)
	if err != nil {
		return fmt.Errorf("encoding route: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `UPDATE orders SET filled = ?, remaining = ?, avg_fill_price = ?,
		status = ?, route = ?, reserved_margin = ?, cancel_reason = ?, submitted_at = ?,
		executed_at = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
		o.Filled, o.Remaining, o.AvgFillPrice, string(o.Status), string(route), o.ReservedMargin,
		o.CancelReason, toNanos(o.SubmittedAt), toNanos(o.ExecutedAt), toNanos(o.CancelledAt),
		toNanos(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

// OrdersByAccount returns an account's orders created at or after since.
func (s *SQLiteStore) OrdersByAccount(ctx context.Context, accountID string, since time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `WHERE account_id = ? AND created_at >= ? ORDER BY created_at, id`, accountID, toNanos(since))
}

// OrdersTouchedSince returns an account's orders created or updated at or
// after since.
func (s *SQLiteStore) OrdersTouchedSince(ctx context.Context, accountID string, since time.Time) ([]domain.Order, error) {
	ts := toNanos(since)
	return s.queryOrders(ctx, `WHERE account_id = ? AND (created_at >= ? OR updated_at >= ?) ORDER BY created_at, id`, accountID, ts, ts)
}

// OrdersBySecurity returns a security's orders created at or after since.
func (s *SQLiteStore) OrdersBySecurity(ctx context.Context, securityID string, since time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `WHERE security_id = ? AND created_at >= ? ORDER BY created_at, id`, securityID, toNanos(since))
}

// OrdersByStatus returns every order in one of the given statuses.
func (s *SQLiteStore) OrdersByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryOrders(ctx, `WHERE status IN (`+placeholders(len(args))+`) ORDER BY created_at, id`, args...)
}

// ActiveAccounts returns the accounts with orders updated at or after since.
func (s *SQLiteStore) ActiveAccounts(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT account_id FROM orders WHERE updated_at >= ? ORDER BY account_id`, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("querying active accounts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	return collect(rows, scanOrder)
}

func scanOrder(sc scanner) (*domain.Order, error) {
	var (
		o                                       domain.Order
		side, spec, tif, strategy, status       string
		route, compliance                       string
		created, submitted, executed, cancelled int64
		updated                                 int64
	)
	err := sc.Scan(&o.ID, &o.AccountID, &o.SecurityID, &o.Symbol, &side, &spec, &o.Quantity, &o.Filled,
		&o.Remaining, &o.AvgFillPrice, &tif, &o.ExtendedHours, &o.LocateID, &strategy,
		&status, &route, &o.ReservedMargin, &o.CancelReason, &compliance, &created, &submitted,
		&executed, &cancelled, &updated)
	if err != nil {
		return nil, err
	}

	var ts domain.OrderTypeSpec
	if err := json.Unmarshal([]byte(spec), &ts); err != nil {
		return nil, fmt.Errorf("decoding order type of %s: %w", o.ID, err)
	}
	if o.Type, err = ts.Build(); err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(route), &o.Route); err != nil {
		return nil, fmt.Errorf("decoding route of %s: %w", o.ID, err)
	}

	o.Side = domain.Side(side)
	o.TimeInForce = domain.TimeInForce(tif)
	o.OptionStrategy = domain.OptionStrategy(strategy)
	o.Status = domain.Status(status)
	o.Compliance = json.RawMessage(compliance)
	o.CreatedAt = fromNanos(created)
	o.SubmittedAt = fromNanos(submitted)
	o.ExecutedAt = fromNanos(executed)
	o.CancelledAt = fromNanos(cancelled)
	o.UpdatedAt = fromNanos(updated)
	return &o, nil
}

// ---------------------------------------------------------------------------
// ExecutionStore implementation
// ---------------------------------------------------------------------------

const executionColumns = `id, order_id, account_id, security_id, symbol, side, quantity, price,
	venue, liquidity, commission, fees, executed_at, settlement_date`

// InsertExecution adds a fill.
func (s *SQLiteStore) InsertExecution(ctx context.Context, e *domain.Execution) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`) VALUES (`+placeholders(14)+`)`,
		e.ID, e.OrderID, e.AccountID, e.SecurityID, e.Symbol, string(e.Side), e.Quantity, e.Price,
		e.Venue, string(e.Liquidity), e.Commission, e.Fees, toNanos(e.ExecutedAt), toNanos(e.SettlementDate),
	)
	if err != nil {
		return fmt.Errorf("inserting execution %s: %w", e.ID, err)
	}
	return nil
}

// GetExecution retrieves a fill by its ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err != nil {
		return nil, notFound(err, "execution", id)
	}
	return e, nil
}

// ExecutionsByOrder returns an order's fills.
func (s *SQLiteStore) ExecutionsByOrder(ctx context.Context, orderID string) ([]domain.Execution, error) {
	return s.queryExecutions(ctx, `WHERE order_id = ? ORDER BY executed_at, id`, orderID)
}

// ExecutionsByAccount returns an account's fills executed at or after since.
func (s *SQLiteStore) ExecutionsByAccount(ctx context.Context, accountID string, since time.Time) ([]domain.Execution, error) {
	return s.queryExecutions(ctx, `WHERE account_id = ? AND executed_at >= ? ORDER BY executed_at, id`, accountID, toNanos(since))
}

// ExecutionsBySecurity returns a security's fills executed at or after since.
func (s *SQLiteStore) ExecutionsBySecurity(ctx context.Context, securityID string, since time.Time) ([]domain.Execution, error) {
	return s.queryExecutions(ctx, `WHERE security_id = ? AND executed_at >= ? ORDER BY executed_at, id`, securityID, toNanos(since))
}

// ExecutionsBetween returns every fill executed in [start, end).
func (s *SQLiteStore) ExecutionsBetween(ctx context.Context, start, end time.Time) ([]domain.Execution, error) {
	return s.queryExecutions(ctx, `WHERE executed_at >= ? AND executed_at < ? ORDER BY executed_at, id`, toNanos(start), toNanos(end))
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, where string, args ...any) ([]domain.Execution, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	return collect(rows, scanExecution)
}

func scanExecution(sc scanner) (*domain.Execution, error) {
	var (
		e                 domain.Execution
		side, liquidity   string
		executed, settles int64
	)
	err := sc.Scan(&e.ID, &e.OrderID, &e.AccountID, &e.SecurityID, &e.Symbol, &side, &e.Quantity, &e.Price,
		&e.Venue, &liquidity, &e.Commission, &e.Fees, &executed, &settles)
	if err != nil {
		return nil, err
	}
	e.Side = domain.Side(side)
	e.Liquidity = domain.Liquidity(liquidity)
	e.ExecutedAt = fromNanos(executed)
	e.SettlementDate = fromNanos(settles)
	return &e, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// GetPosition returns the position of an account in a security.
func (s *SQLiteStore) GetPosition(ctx context.Context, accountID, securityID string) (*domain.Position, error) {
	row := s.q.QueryRowContext(ctx, `SELECT account_id, security_id, symbol, quantity, avg_cost,
		realized_pnl, updated_at FROM positions WHERE account_id = ? AND security_id = ?`, accountID, securityID)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "position", accountID+"/"+securityID)
	}
	return p, nil
}

// SavePosition inserts or replaces a position.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.q.ExecContext(ctx, `INSERT OR REPLACE INTO positions
		(account_id, security_id, symbol, quantity, avg_cost, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.AccountID, p.SecurityID, p.Symbol, p.Quantity, p.AvgCost, p.RealizedPnL, toNanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving position %s/%s: %w", p.AccountID, p.SecurityID, err)
	}
	return nil
}

// PositionsByAccount returns every position of an account.
func (s *SQLiteStore) PositionsByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT account_id, security_id, symbol, quantity, avg_cost,
		realized_pnl, updated_at FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying positions of %s: %w", accountID, err)
	}
	return collect(rows, scanPosition)
}

func scanPosition(sc scanner) (*domain.Position, error) {
	var (
		p       domain.Position
		updated int64
	)
	if err := sc.Scan(&p.AccountID, &p.SecurityID, &p.Symbol, &p.Quantity, &p.AvgCost, &p.RealizedPnL, &updated); err != nil {
		return nil, err
	}
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

// ---------------------------------------------------------------------------
// ComplianceStore implementation
// ---------------------------------------------------------------------------

// InsertAlert adds a surveillance alert.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *domain.Alert) error {
	detections, err := json.Marshal(a.Detections)
	if err != nil {
		return fmt.Errorf("encoding detections: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO alerts
		(id, account_id, detections, risk_score, requires_review, window_start, window_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, string(detections), a.RiskScore, a.RequiresReview,
		toNanos(a.WindowStart), toNanos(a.WindowEnd), toNanos(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting alert %s: %w", a.ID, err)
	}
	return nil
}

// AlertsByAccount returns an account's alerts, newest first.
func (s *SQLiteStore) AlertsByAccount(ctx context.Context, accountID string) ([]domain.Alert, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, account_id, detections, risk_score, requires_review,
		window_start, window_end, created_at FROM alerts WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying alerts of %s: %w", accountID, err)
	}
	return collect(rows, func(sc scanner) (*domain.Alert, error) {
		var (
			a                   domain.Alert
			detections          string
			start, end, created int64
		)
		if err := sc.Scan(&a.ID, &a.AccountID, &detections, &a.RiskScore, &a.RequiresReview, &start, &end, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(detections), &a.Detections); err != nil {
			return nil, fmt.Errorf("decoding detections of alert %s: %w", a.ID, err)
		}
		a.WindowStart = fromNanos(start)
		a.WindowEnd = fromNanos(end)
		a.CreatedAt = fromNanos(created)
		return &a, nil
	})
}

// InsertAnomaly adds an execution anomaly.
func (s *SQLiteStore) InsertAnomaly(ctx context.Context, a *domain.Anomaly) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO anomalies
		(id, kind, order_id, account_id, execution_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.OrderID, a.AccountID, a.ExecutionID, a.Detail, toNanos(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting anomaly %s: %w", a.ID, err)
	}
	return nil
}

// AnomaliesSince returns anomalies recorded at or after since.
func (s *SQLiteStore) AnomaliesSince(ctx context.Context, since time.Time) ([]domain.Anomaly, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, kind, order_id, account_id, execution_id, detail,
		created_at FROM anomalies WHERE created_at >= ? ORDER BY created_at DESC`, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}
	return collect(rows, func(sc scanner) (*domain.Anomaly, error) {
		var (
			a       domain.Anomaly
			kind    string
			created int64
		)
		if err := sc.Scan(&a.ID, &kind, &a.OrderID, &a.AccountID, &a.ExecutionID, &a.Detail, &created); err != nil {
			return nil, err
		}
		a.Kind = domain.AnomalyKind(kind)
		a.CreatedAt = fromNanos(created)
		return &a, nil
	})
}
