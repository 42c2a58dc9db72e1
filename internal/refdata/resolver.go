// Package refdata resolves symbols to security reference records, reading
// the local store first and falling back to a remote asset source.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

// AssetSource looks up a symbol at a remote reference provider. It returns
// domain.ErrSecurityNotFound when the provider does not know the symbol.
type AssetSource interface {
	Lookup(ctx context.Context, symbol string) (*domain.Security, error)
}

// Resolver maps symbols to securities.
type Resolver struct {
	store  store.SecurityStore
	remote AssetSource
	log    *slog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver. remote may be nil, in which case only the
// local store is consulted.
func NewResolver(s store.SecurityStore, remote AssetSource, log *slog.Logger) *Resolver {
	return &Resolver{
		store:  s,
		remote: remote,
		log:    log.With("component", "refdata"),
		now:    time.Now,
	}
}

// Resolve returns the security for symbol. A remote hit is saved to the
// store so later lookups stay local.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (*domain.Security, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, domain.InvalidParams("symbol is required")
	}

	sec, err := r.store.GetSecurityBySymbol(ctx, symbol)
	if err == nil {
		return sec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if r.remote == nil {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrSecurityNotFound)
	}

	sec, err = r.remote.Lookup(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrSecurityNotFound) {
			return nil, err
		}
		r.log.Warn("remote lookup failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrSecurityNotFound)
	}
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	sec.Symbol = symbol
	sec.UpdatedAt = r.now().UTC()
	if err := r.store.SaveSecurity(ctx, sec); err != nil {
		return nil, fmt.Errorf("caching security %s: %w", symbol, err)
	}
	r.log.Info("security cached", "symbol", symbol, "type", sec.Type)
	return sec, nil
}
