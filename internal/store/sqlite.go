package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// SQLiteStore implements Store backed by a SQLite database. Decimals are
// stored as TEXT to keep exact values; times are Unix nanoseconds (0 = unset).
type SQLiteStore struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
			}
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, q: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Atomic runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&SQLiteStore{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kyc_status TEXT NOT NULL,
		cash TEXT NOT NULL,
		margin_balance TEXT NOT NULL,
		reserved_margin TEXT NOT NULL,
		leverage TEXT NOT NULL,
		risk_tolerance TEXT NOT NULL,
		options_level INTEGER NOT NULL,
		futures_approved INTEGER NOT NULL,
		forex_approved INTEGER NOT NULL,
		crypto_approved INTEGER NOT NULL,
		short_approved INTEGER NOT NULL,
		position_limit TEXT NOT NULL,
		daily_loss_limit TEXT NOT NULL,
		daily_realized_pnl TEXT NOT NULL,
		weekly_realized_pnl TEXT NOT NULL,
		pnl_date TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS securities (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		restricted INTEGER NOT NULL,
		halted INTEGER NOT NULL,
		hard_to_borrow INTEGER NOT NULL,
		reg_sho_threshold INTEGER NOT NULL,
		ssr_active INTEGER NOT NULL,
		outstanding_shares INTEGER NOT NULL,
		multiplier TEXT NOT NULL,
		underlying_symbol TEXT NOT NULL,
		initial_margin_rate TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS restrictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		security_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		holding_months INTEGER NOT NULL,
		acquired_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS halts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		security_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		reason TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		security_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		filled TEXT NOT NULL,
		remaining TEXT NOT NULL,
		avg_fill_price TEXT NOT NULL,
		time_in_force TEXT NOT NULL,
		extended_hours INTEGER NOT NULL,
		locate_id TEXT NOT NULL,
		option_strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		route TEXT NOT NULL,
		reserved_margin TEXT NOT NULL,
		cancel_reason TEXT NOT NULL,
		compliance TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		submitted_at INTEGER NOT NULL,
		executed_at INTEGER NOT NULL,
		cancelled_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		security_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		venue TEXT NOT NULL,
		liquidity TEXT NOT NULL,
		commission TEXT NOT NULL,
		fees TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		settlement_date INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		account_id TEXT NOT NULL,
		security_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_cost TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, security_id)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		detections TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		requires_review INTEGER NOT NULL,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_restrictions_security ON restrictions (security_id);
	CREATE INDEX IF NOT EXISTS idx_halts_security_start ON halts (security_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_orders_account_created ON orders (account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_security_created ON orders (security_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
	CREATE INDEX IF NOT EXISTS idx_orders_updated ON orders (updated_at);
	CREATE INDEX IF NOT EXISTS idx_executions_order ON executions (order_id);
	CREATE INDEX IF NOT EXISTS idx_executions_account_time ON executions (account_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_executions_security_time ON executions (security_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts (account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_anomalies_created ON anomalies (created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound with context.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("loading %s %s: %w", what, id, err)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

const accountColumns = `id, kyc_status, cash, margin_balance, reserved_margin, leverage,
	risk_tolerance, options_level, futures_approved, forex_approved, crypto_approved,
	short_approved, position_limit, daily_loss_limit, daily_realized_pnl,
	weekly_realized_pnl, pnl_date, updated_at`

// GetAccount retrieves a single account by its ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return a, nil
}

// SaveAccount inserts or replaces an account.
func (s *SQLiteStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	_, err := s.q.ExecContext(ctx, `INSERT OR REPLACE INTO accounts (`+accountColumns+`)
		VALUES (`+placeholders(18)+`)`,
		a.ID, string(a.KYCStatus), a.Cash, a.MarginBalance, a.ReservedMargin, a.Leverage,
		string(a.RiskTolerance), a.OptionsLevel, a.FuturesApproved, a.ForexApproved, a.CryptoApproved,
		a.ShortApproved, a.PositionLimit, a.DailyLossLimit, a.DailyRealizedPnL,
		a.WeeklyRealizedPnL, a.PnLDate, toNanos(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving account %s: %w", a.ID, err)
	}
	return nil
}

func scanAccount(sc scanner) (*domain.Account, error) {
	var (
		a         domain.Account
		kyc, risk string
		updated   int64
	)
	err := sc.Scan(&a.ID, &kyc, &a.Cash, &a.MarginBalance, &a.ReservedMargin, &a.Leverage,
		&risk, &a.OptionsLevel, &a.FuturesApproved, &a.ForexApproved, &a.CryptoApproved,
		&a.ShortApproved, &a.PositionLimit, &a.DailyLossLimit, &a.DailyRealizedPnL,
		&a.WeeklyRealizedPnL, &a.PnLDate, &updated)
	if err != nil {
		return nil, err
	}
	a.KYCStatus = domain.KYCStatus(kyc)
	a.RiskTolerance = domain.RiskTolerance(risk)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}

// ---------------------------------------------------------------------------
// SecurityStore implementation
// ---------------------------------------------------------------------------

const securityColumns = `id, symbol, type, restricted, halted, hard_to_borrow, reg_sho_threshold,
	ssr_active, outstanding_shares, multiplier, underlying_symbol, initial_margin_rate, updated_at`

// GetSecurity retrieves a security by its ID.
func (s *SQLiteStore) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+securityColumns+` FROM securities WHERE id = ?`, id)
	sec, err := scanSecurity(row)
	if err != nil {
		return nil, notFound(err, "security", id)
	}
	return sec, nil
}

// GetSecurityBySymbol retrieves a security by its symbol.
func (s *SQLiteStore) GetSecurityBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	symbol = domain.NormalizeSymbol(symbol)
	row := s.q.QueryRowContext(ctx, `SELECT `+securityColumns+` FROM securities WHERE symbol = ?`, symbol)
	sec, err := scanSecurity(row)
	if err != nil {
		return nil, notFound(err, "security", symbol)
	}
	return sec, nil
}

// SaveSecurity inserts or replaces a security.
func (s *SQLiteStore) SaveSecurity(ctx context.Context, sec *domain.Security) error {
	_, err := s.q.ExecContext(ctx, `INSERT OR REPLACE INTO securities (`+securityColumns+`)
		VALUES (`+placeholders(13)+`)`,
		sec.ID, domain.NormalizeSymbol(sec.Symbol), string(sec.Type), sec.Restricted, sec.Halted,
		sec.HardToBorrow, sec.RegSHOThreshold, sec.SSRActive, sec.OutstandingShares, sec.Multiplier,
		sec.UnderlyingSymbol, sec.InitialMarginRate, toNanos(sec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving security %s: %w", sec.Symbol, err)
	}
	return nil
}

func scanSecurity(sc scanner) (*domain.Security, error) {
	var (
		sec     domain.Security
		typ     string
		updated int64
	)
	err := sc.Scan(&sec.ID, &sec.Symbol, &typ, &sec.Restricted, &sec.Halted, &sec.HardToBorrow,
		&sec.RegSHOThreshold, &sec.SSRActive, &sec.OutstandingShares, &sec.Multiplier,
		&sec.UnderlyingSymbol, &sec.InitialMarginRate, &updated)
	if err != nil {
		return nil, err
	}
	sec.Type = domain.SecurityType(typ)
	sec.UpdatedAt = fromNanos(updated)
	return &sec, nil
}

// AddRestriction records a restriction.
func (s *SQLiteStore) AddRestriction(ctx context.Context, r *domain.Restriction) error {
	res, err := s.q.ExecContext(ctx, `INSERT INTO restrictions
		(security_id, account_id, reason, holding_months, acquired_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.SecurityID, r.AccountID, r.Reason, r.HoldingMonths, toNanos(r.AcquiredAt), toNanos(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("adding restriction on %s: %w", r.SecurityID, err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// Restrictions returns firm-wide and account-specific restrictions.
func (s *SQLiteStore) Restrictions(ctx context.Context, securityID, accountID string) ([]domain.Restriction, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, security_id, account_id, reason, holding_months,
		acquired_at, created_at FROM restrictions
		WHERE security_id = ? AND (account_id = '' OR account_id = ?) ORDER BY id`,
		securityID, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying restrictions for %s: %w", securityID, err)
	}
	return collect(rows, func(sc scanner) (*domain.Restriction, error) {
		var (
			r                 domain.Restriction
			acquired, created int64
		)
		if err := sc.Scan(&r.ID, &r.SecurityID, &r.AccountID, &r.Reason, &r.HoldingMonths, &acquired, &created); err != nil {
			return nil, err
		}
		r.AcquiredAt = fromNanos(acquired)
		r.CreatedAt = fromNanos(created)
		return &r, nil
	})
}

// AddHalt records a halt.
func (s *SQLiteStore) AddHalt(ctx context.Context, h *domain.Halt) error {
	res, err := s.q.ExecContext(ctx, `INSERT INTO halts (security_id, level, reason, start_at, end_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.SecurityID, h.Level, h.Reason, toNanos(h.Start), toNanos(h.End),
	)
	if err != nil {
		return fmt.Errorf("adding halt on %s: %w", h.SecurityID, err)
	}
	h.ID, err = res.LastInsertId()
	return err
}

// HaltsSince returns halts on a security that started at or after since.
func (s *SQLiteStore) HaltsSince(ctx context.Context, securityID string, since time.Time) ([]domain.Halt, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, security_id, level, reason, start_at, end_at
		FROM halts WHERE security_id = ? AND start_at >= ? ORDER BY start_at`,
		securityID, toNanos(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying halts for %s: %w", securityID, err)
	}
	return collect(rows, func(sc scanner) (*domain.Halt, error) {
		var (
			h          domain.Halt
			start, end int64
		)
		if err := sc.Scan(&h.ID, &h.SecurityID, &h.Level, &h.Reason, &start, &end); err != nil {
			return nil, err
		}
		h.Start = fromNanos(start)
		h.End = fromNanos(end)
		return &h, nil
	})
}
