package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ Router = (*SimulatorBroker)(nil)

// ErrVenueRejected is returned by the simulator for symbols configured to
// fail routing.
var ErrVenueRejected = errors.New("venue rejected order")

// SimulatorBroker implements Router for paper trading and tests. It accepts
// every order unless its symbol was marked with Reject, and remembers routed
// and cancelled orders in memory.
type SimulatorBroker struct {
	mu        sync.Mutex
	routed    map[string]domain.Route // order ID -> route taken
	cancelled map[string]bool
	reject    map[string]bool
}

// NewSimulatorBroker creates a new SimulatorBroker.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		routed:    make(map[string]domain.Route),
		cancelled: make(map[string]bool),
		reject:    make(map[string]bool),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Reject makes every later Route call for symbol fail.
func (b *SimulatorBroker) Reject(symbol string) {
	b.mu.Lock()
	b.reject[domain.NormalizeSymbol(symbol)] = true
	b.mu.Unlock()
}

// Route records the order and returns a generated venue reference.
func (b *SimulatorBroker) Route(ctx context.Context, o *domain.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reject[o.Symbol] {
		return "", fmt.Errorf("%s: %w", o.Symbol, ErrVenueRejected)
	}
	if len(o.Route.Venues) == 0 {
		return "", fmt.Errorf("order %s: no venue", o.ID)
	}
	b.routed[o.ID] = o.Route
	return "sim-" + uuid.NewString(), nil
}

// Cancel marks a routed order as cancelled.
func (b *SimulatorBroker) Cancel(_ context.Context, o *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.routed[o.ID]; !ok {
		return fmt.Errorf("order %s was never routed", o.ID)
	}
	b.cancelled[o.ID] = true
	return nil
}

// Routed returns the route taken by an order and whether it was routed.
func (b *SimulatorBroker) Routed(orderID string) (domain.Route, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.routed[orderID]
	return r, ok
}

// Cancelled reports whether Cancel was called for a routed order.
func (b *SimulatorBroker) Cancelled(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled[orderID]
}
