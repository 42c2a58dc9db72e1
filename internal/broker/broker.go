// Package broker defines the Router interface that hands admitted orders to
// an execution venue, with an Alpaca implementation and an in-memory
// simulator for paper trading and tests.
package broker

import (
	"context"

	"tradegate/internal/domain"
)

// Router sends orders to venues. Price discovery happens at the venue; fills
// come back through the engine's execution path.
type Router interface {
	// Name returns the router identifier (e.g. "alpaca", "simulator").
	Name() string

	// Route sends the order along o.Route and returns the venue's order
	// reference.
	Route(ctx context.Context, o *domain.Order) (string, error)

	// Cancel asks the venue to cancel a routed order. It is best effort.
	Cancel(ctx context.Context, o *domain.Order) error
}
