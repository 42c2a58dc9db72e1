package refdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

var _ AssetSource = (*AlpacaAssets)(nil)

// AlpacaAssets looks up reference data through the Alpaca assets API.
type AlpacaAssets struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
}

// NewAlpacaAssets creates an AlpacaAssets client.
func NewAlpacaAssets(apiKey, apiSecret, baseURL string, perMinute int) *AlpacaAssets {
	if perMinute <= 0 {
		perMinute = 200
	}
	return &AlpacaAssets{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter: util.NewRateLimiter(perMinute),
	}
}

// Lookup fetches the asset for symbol.
func (a *AlpacaAssets) Lookup(ctx context.Context, symbol string) (*domain.Security, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	asset, err := a.client.GetAsset(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", symbol, domain.ErrSecurityNotFound)
		}
		return nil, fmt.Errorf("GetAsset %s: %w", symbol, err)
	}
	return securityFromAsset(asset), nil
}

// securityFromAsset maps an Alpaca asset onto a security. Assets that are not
// tradable at the broker are treated as restricted; shortable assets that are
// not easy to borrow are hard to borrow.
func securityFromAsset(asset *alpaca.Asset) *domain.Security {
	sec := &domain.Security{
		ID:           asset.ID,
		Symbol:       domain.NormalizeSymbol(asset.Symbol),
		Type:         domain.SecurityEquity,
		Restricted:   !asset.Tradable,
		HardToBorrow: asset.Shortable && !asset.EasyToBorrow,
	}
	switch string(asset.Class) {
	case "crypto":
		sec.Type = domain.SecurityCrypto
	case "us_option":
		sec.Type = domain.SecurityOption
		sec.Multiplier = decimal.NewFromInt(100)
	}
	return sec
}
