// Package store defines storage interfaces for the ledger, reference data,
// orders, executions and compliance records, with a SQLite implementation
// for the live state and a Parquet archive for executions.
package store

import (
	"context"
	"time"

	"tradegate/internal/domain"
)

// AccountStore persists the account ledger.
type AccountStore interface {
	// GetAccount returns the account or domain.ErrNotFound.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// SaveAccount inserts or replaces an account.
	SaveAccount(ctx context.Context, acct *domain.Account) error
}

// SecurityStore persists security reference data, restrictions and halts.
type SecurityStore interface {
	// GetSecurity returns the security with the given id or domain.ErrNotFound.
	GetSecurity(ctx context.Context, id string) (*domain.Security, error)

	// GetSecurityBySymbol returns the security for a symbol or domain.ErrNotFound.
	GetSecurityBySymbol(ctx context.Context, symbol string) (*domain.Security, error)

	// SaveSecurity inserts or replaces a security.
	SaveSecurity(ctx context.Context, sec *domain.Security) error

	// AddRestriction records a restriction and sets its ID.
	AddRestriction(ctx context.Context, r *domain.Restriction) error

	// Restrictions returns the firm-wide restrictions on a security plus the
	// ones specific to accountID.
	Restrictions(ctx context.Context, securityID, accountID string) ([]domain.Restriction, error)

	// AddHalt records a halt and sets its ID.
	AddHalt(ctx context.Context, h *domain.Halt) error

	// HaltsSince returns halts on a security that started at or after since.
	HaltsSince(ctx context.Context, securityID string, since time.Time) ([]domain.Halt, error)
}

// OrderStore persists orders.
type OrderStore interface {
	// InsertOrder adds a new order.
	InsertOrder(ctx context.Context, o *domain.Order) error

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// GetOrder returns the order or domain.ErrNotFound.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// OrdersByAccount returns an account's orders created at or after since,
	// oldest first.
	OrdersByAccount(ctx context.Context, accountID string, since time.Time) ([]domain.Order, error)

	// OrdersTouchedSince returns an account's orders created or updated at or
	// after since, oldest first.
	OrdersTouchedSince(ctx context.Context, accountID string, since time.Time) ([]domain.Order, error)

	// OrdersBySecurity returns a security's orders created at or after since,
	// oldest first.
	OrdersBySecurity(ctx context.Context, securityID string, since time.Time) ([]domain.Order, error)

	// OrdersByStatus returns every order in one of the given statuses.
	OrdersByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Order, error)

	// ActiveAccounts returns the accounts with orders updated at or after since.
	ActiveAccounts(ctx context.Context, since time.Time) ([]string, error)
}

// ExecutionStore persists fills.
type ExecutionStore interface {
	// InsertExecution adds a fill. Execution IDs are unique.
	InsertExecution(ctx context.Context, e *domain.Execution) error

	// GetExecution returns the fill or domain.ErrNotFound.
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)

	// ExecutionsByOrder returns an order's fills, oldest first.
	ExecutionsByOrder(ctx context.Context, orderID string) ([]domain.Execution, error)

	// ExecutionsByAccount returns an account's fills executed at or after since.
	ExecutionsByAccount(ctx context.Context, accountID string, since time.Time) ([]domain.Execution, error)

	// ExecutionsBySecurity returns a security's fills executed at or after since.
	ExecutionsBySecurity(ctx context.Context, securityID string, since time.Time) ([]domain.Execution, error)

	// ExecutionsBetween returns every fill executed in [start, end).
	ExecutionsBetween(ctx context.Context, start, end time.Time) ([]domain.Execution, error)
}

// PositionStore persists positions.
type PositionStore interface {
	// GetPosition returns the position or domain.ErrNotFound.
	GetPosition(ctx context.Context, accountID, securityID string) (*domain.Position, error)

	// SavePosition inserts or replaces a position.
	SavePosition(ctx context.Context, p *domain.Position) error

	// PositionsByAccount returns every position of an account, flat ones included.
	PositionsByAccount(ctx context.Context, accountID string) ([]domain.Position, error)
}

// ComplianceStore persists surveillance alerts and execution anomalies.
type ComplianceStore interface {
	// InsertAlert adds a surveillance alert.
	InsertAlert(ctx context.Context, a *domain.Alert) error

	// AlertsByAccount returns an account's alerts, newest first.
	AlertsByAccount(ctx context.Context, accountID string) ([]domain.Alert, error)

	// InsertAnomaly adds an execution anomaly.
	InsertAnomaly(ctx context.Context, a *domain.Anomaly) error

	// AnomaliesSince returns anomalies recorded at or after since, newest first.
	AnomaliesSince(ctx context.Context, since time.Time) ([]domain.Anomaly, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	AccountStore
	SecurityStore
	OrderStore
	ExecutionStore
	PositionStore
	ComplianceStore

	// Atomic runs fn inside one transaction. The Store passed to fn is bound
	// to that transaction; fn must use it instead of the receiver. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

// ExecutionArchive stores executions for long-term history.
type ExecutionArchive interface {
	// WriteExecutions merges executions into the archive.
	WriteExecutions(ctx context.Context, execs []domain.Execution) error

	// ReadExecutions returns archived executions of an account in [start, end].
	ReadExecutions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Execution, error)
}
