package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker()
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorRouteAndCancel(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	o := &domain.Order{ID: "ord-1", Symbol: "AAPL", Route: domain.Route{Strategy: "direct", Venues: []string{"primary"}}}

	ref, err := b.Route(ctx, o)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ref == "" {
		t.Error("Route returned an empty venue reference")
	}
	if r, ok := b.Routed("ord-1"); !ok || r.Strategy != "direct" {
		t.Errorf("Routed = %+v, %v", r, ok)
	}

	if err := b.Cancel(ctx, o); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !b.Cancelled("ord-1") {
		t.Error("order not marked cancelled")
	}
	if err := b.Cancel(ctx, &domain.Order{ID: "never"}); err == nil {
		t.Error("Cancel of an unrouted order should fail")
	}
}

func TestSimulatorReject(t *testing.T) {
	b := NewSimulatorBroker()
	b.Reject("bad")
	_, err := b.Route(context.Background(), &domain.Order{ID: "x", Symbol: "BAD", Route: domain.Route{Venues: []string{"primary"}}})
	if !errors.Is(err, ErrVenueRejected) {
		t.Errorf("Route err = %v, want ErrVenueRejected", err)
	}
}

func TestPlaceOrderRequest(t *testing.T) {
	tests := []struct {
		name      string
		side      domain.Side
		typ       domain.OrderType
		tif       domain.TimeInForce
		wantSide  alpaca.Side
		wantType  alpaca.OrderType
		wantLimit string
		wantStop  string
	}{
		{"market buy", domain.SideBuy, domain.Market{}, domain.TIFDay, alpaca.Buy, alpaca.Market, "", ""},
		{"limit short", domain.SideSellShort, domain.Limit{Price: d("10.5")}, domain.TIFGTC, alpaca.Sell, alpaca.Limit, "10.5", ""},
		{"stop limit cover", domain.SideBuyToCover, domain.StopLimit{StopPrice: d("9"), LimitPrice: d("9.5")}, domain.TIFIOC, alpaca.Buy, alpaca.StopLimit, "9.5", "9"},
		{"iceberg as limit", domain.SideSell, domain.Iceberg{Price: d("20"), DisplayQuantity: d("10")}, domain.TIFDay, alpaca.Sell, alpaca.Limit, "20", ""},
		{"twap without cap", domain.SideBuy, domain.TWAP{Horizon: 1}, domain.TIFDay, alpaca.Buy, alpaca.Market, "", ""},
		{"vwap with cap", domain.SideBuy, domain.VWAP{LimitPrice: d("7"), Horizon: 1}, domain.TIFFOK, alpaca.Buy, alpaca.Limit, "7", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &domain.Order{ID: "ord-1", Symbol: "AAPL", Side: tt.side, Type: tt.typ, Quantity: d("100"), TimeInForce: tt.tif}
			req, err := placeOrderRequest(o)
			if err != nil {
				t.Fatalf("placeOrderRequest: %v", err)
			}
			if req.Side != tt.wantSide || req.Type != tt.wantType {
				t.Errorf("side/type = %s/%s, want %s/%s", req.Side, req.Type, tt.wantSide, tt.wantType)
			}
			if req.ClientOrderID != "ord-1" || !req.Qty.Equal(d("100")) {
				t.Errorf("client id/qty = %s/%s", req.ClientOrderID, req.Qty)
			}
			checkPrice(t, "limit", req.LimitPrice, tt.wantLimit)
			checkPrice(t, "stop", req.StopPrice, tt.wantStop)
		})
	}
}

func checkPrice(t *testing.T, name string, got *decimal.Decimal, want string) {
	t.Helper()
	if want == "" {
		if got != nil {
			t.Errorf("%s price = %s, want unset", name, got)
		}
		return
	}
	if got == nil || !got.Equal(d(want)) {
		t.Errorf("%s price = %v, want %s", name, got, want)
	}
}
