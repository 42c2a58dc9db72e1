package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

// Compile-time interface check.
var _ Router = (*AlpacaBroker)(nil)

// AlpacaBroker implements Router using the Alpaca brokerage API. Alpaca is a
// single venue, so multi-venue routes are placed as one order there.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Route places the order through POST /v2/orders. The engine's order ID is
// sent as the client order ID so venue callbacks can be matched.
func (b *AlpacaBroker) Route(ctx context.Context, o *domain.Order) (string, error) {
	req, err := placeOrderRequest(o)
	if err != nil {
		return "", err
	}
	var placed *alpaca.Order
	err = util.RetryIf(ctx, 3, 250*time.Millisecond, func() error {
		var err error
		placed, err = b.client.PlaceOrder(req)
		return err
	}, retryable)
	if err != nil {
		return "", fmt.Errorf("PlaceOrder %s: %w", o.ID, err)
	}
	return placed.ID, nil
}

// Cancel requests cancellation through DELETE /v2/orders/{id}.
func (b *AlpacaBroker) Cancel(_ context.Context, o *domain.Order) error {
	if o.Route.VenueRef == "" {
		return fmt.Errorf("order %s has no venue reference", o.ID)
	}
	if err := b.client.CancelOrder(o.Route.VenueRef); err != nil {
		return fmt.Errorf("CancelOrder %s: %w", o.Route.VenueRef, err)
	}
	return nil
}

// retryable reports whether a PlaceOrder failure may succeed on retry. The
// API rejecting the request itself (4xx) is final.
func retryable(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// placeOrderRequest maps an order onto Alpaca's order model. Algorithmic and
// pegged types have no direct equivalent and are sent as limit orders at
// their cap, or market orders without one.
func placeOrderRequest(o *domain.Order) (alpaca.PlaceOrderRequest, error) {
	qty := o.Quantity
	req := alpaca.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Qty:           &qty,
		ExtendedHours: o.ExtendedHours,
		ClientOrderID: o.ID,
	}

	if o.Side.IsBuy() {
		req.Side = alpaca.Buy
	} else {
		req.Side = alpaca.Sell
	}

	switch o.TimeInForce {
	case domain.TIFDay:
		req.TimeInForce = alpaca.Day
	case domain.TIFGTC:
		req.TimeInForce = alpaca.GTC
	case domain.TIFIOC:
		req.TimeInForce = alpaca.IOC
	case domain.TIFFOK:
		req.TimeInForce = alpaca.FOK
	default:
		return req, fmt.Errorf("unsupported time in force %q", o.TimeInForce)
	}

	switch t := o.Type.(type) {
	case domain.Market:
		req.Type = alpaca.Market
	case domain.Limit:
		req.Type = alpaca.Limit
		req.LimitPrice = ptr(t.Price)
	case domain.Stop:
		req.Type = alpaca.Stop
		req.StopPrice = ptr(t.StopPrice)
	case domain.StopLimit:
		req.Type = alpaca.StopLimit
		req.StopPrice = ptr(t.StopPrice)
		req.LimitPrice = ptr(t.LimitPrice)
	case domain.TrailingStop:
		req.Type = alpaca.TrailingStop
		req.TrailPrice = ptr(t.Trail)
	case domain.Iceberg:
		req.Type = alpaca.Limit
		req.LimitPrice = ptr(t.Price)
	case domain.TWAP:
		setCapped(&req, t.LimitPrice)
	case domain.VWAP:
		setCapped(&req, t.LimitPrice)
	case domain.Peg:
		req.Type = alpaca.Market
	default:
		return req, fmt.Errorf("unsupported order type %T", o.Type)
	}
	return req, nil
}

func setCapped(req *alpaca.PlaceOrderRequest, limit decimal.Decimal) {
	if limit.IsPositive() {
		req.Type = alpaca.Limit
		req.LimitPrice = ptr(limit)
		return
	}
	req.Type = alpaca.Market
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
