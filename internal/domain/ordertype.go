package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind names an order type variant.
type OrderKind string

const (
	KindMarket       OrderKind = "market"
	KindLimit        OrderKind = "limit"
	KindStop         OrderKind = "stop"
	KindStopLimit    OrderKind = "stop_limit"
	KindTrailingStop OrderKind = "trailing_stop"
	KindIceberg      OrderKind = "iceberg"
	KindTWAP         OrderKind = "twap"
	KindVWAP         OrderKind = "vwap"
	KindPeg          OrderKind = "peg"
)

// OrderType is a closed set of order type variants. Each variant carries the
// fields it requires, so a limit order without a price cannot be built.
type OrderType interface {
	Kind() OrderKind
	validate(qty decimal.Decimal) error
}

// Market executes at the prevailing price.
type Market struct{}

// Limit executes at Price or better.
type Limit struct {
	Price decimal.Decimal
}

// Stop becomes a market order once StopPrice trades.
type Stop struct {
	StopPrice decimal.Decimal
}

// StopLimit becomes a limit order at LimitPrice once StopPrice trades.
type StopLimit struct {
	StopPrice  decimal.Decimal
	LimitPrice decimal.Decimal
}

// TrailingStop is a stop whose trigger follows the market by Trail.
type TrailingStop struct {
	StopPrice decimal.Decimal
	Trail     decimal.Decimal
}

// Iceberg is a limit order showing only DisplayQuantity at a time.
type Iceberg struct {
	Price           decimal.Decimal
	DisplayQuantity decimal.Decimal
}

// TWAP slices the order evenly over Horizon. A zero LimitPrice means no cap.
type TWAP struct {
	LimitPrice decimal.Decimal
	Horizon    time.Duration
}

// VWAP slices the order along the volume curve over Horizon. A zero
// LimitPrice means no cap.
type VWAP struct {
	LimitPrice decimal.Decimal
	Horizon    time.Duration
}

// PegReference is the price a pegged order tracks.
type PegReference string

const (
	PegMid     PegReference = "mid"
	PegPrimary PegReference = "primary"
	PegMarket  PegReference = "market"
)

// Peg tracks Reference shifted by Offset.
type Peg struct {
	Reference PegReference
	Offset    decimal.Decimal
}

func (Market) Kind() OrderKind       { return KindMarket }
func (Limit) Kind() OrderKind        { return KindLimit }
func (Stop) Kind() OrderKind         { return KindStop }
func (StopLimit) Kind() OrderKind    { return KindStopLimit }
func (TrailingStop) Kind() OrderKind { return KindTrailingStop }
func (Iceberg) Kind() OrderKind      { return KindIceberg }
func (TWAP) Kind() OrderKind         { return KindTWAP }
func (VWAP) Kind() OrderKind         { return KindVWAP }
func (Peg) Kind() OrderKind          { return KindPeg }

func (Market) validate(decimal.Decimal) error { return nil }

func (t Limit) validate(decimal.Decimal) error {
	return requirePositive("limit price", t.Price)
}

func (t Stop) validate(decimal.Decimal) error {
	return requirePositive("stop price", t.StopPrice)
}

func (t StopLimit) validate(decimal.Decimal) error {
	if err := requirePositive("stop price", t.StopPrice); err != nil {
		return err
	}
	return requirePositive("limit price", t.LimitPrice)
}

func (t TrailingStop) validate(decimal.Decimal) error {
	if err := requirePositive("stop price", t.StopPrice); err != nil {
		return err
	}
	return requirePositive("trail amount", t.Trail)
}

func (t Iceberg) validate(qty decimal.Decimal) error {
	if err := requirePositive("limit price", t.Price); err != nil {
		return err
	}
	if err := requirePositive("display quantity", t.DisplayQuantity); err != nil {
		return err
	}
	if t.DisplayQuantity.GreaterThan(qty) {
		return InvalidParams("display quantity %s exceeds order quantity %s", t.DisplayQuantity, qty)
	}
	return nil
}

func (t TWAP) validate(decimal.Decimal) error { return validateAlgo(t.LimitPrice, t.Horizon) }
func (t VWAP) validate(decimal.Decimal) error { return validateAlgo(t.LimitPrice, t.Horizon) }

func (t Peg) validate(decimal.Decimal) error {
	switch t.Reference {
	case PegMid, PegPrimary, PegMarket:
		return nil
	}
	return InvalidParams("unknown peg reference %q", t.Reference)
}

func validateAlgo(limit decimal.Decimal, horizon time.Duration) error {
	if limit.IsNegative() {
		return InvalidParams("limit price must be positive")
	}
	if horizon <= 0 {
		return InvalidParams("horizon must be positive")
	}
	return nil
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return InvalidParams("%s must be positive", field)
	}
	return nil
}

// LimitPriceOf returns the limit price carried by t, if any.
func LimitPriceOf(t OrderType) (decimal.Decimal, bool) {
	switch v := t.(type) {
	case Limit:
		return v.Price, true
	case StopLimit:
		return v.LimitPrice, true
	case Iceberg:
		return v.Price, true
	case TWAP:
		return v.LimitPrice, v.LimitPrice.IsPositive()
	case VWAP:
		return v.LimitPrice, v.LimitPrice.IsPositive()
	}
	return decimal.Zero, false
}

// StopPriceOf returns the stop trigger carried by t, if any.
func StopPriceOf(t OrderType) (decimal.Decimal, bool) {
	switch v := t.(type) {
	case Stop:
		return v.StopPrice, true
	case StopLimit:
		return v.StopPrice, true
	case TrailingStop:
		return v.StopPrice, true
	}
	return decimal.Zero, false
}

// ---------------------------------------------------------------------------
// Flat representation
// ---------------------------------------------------------------------------

// OrderTypeSpec is the flat, serializable form of an OrderType. It is used
// on the wire and in storage; Build turns it back into a variant.
type OrderTypeSpec struct {
	Kind            OrderKind       `json:"kind"`
	Price           decimal.Decimal `json:"price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	Trail           decimal.Decimal `json:"trail"`
	DisplayQuantity decimal.Decimal `json:"display_quantity"`
	Horizon         time.Duration   `json:"horizon,omitempty"`
	PegReference    PegReference    `json:"peg_reference,omitempty"`
	Offset          decimal.Decimal `json:"offset"`
}

// SpecOf flattens an OrderType.
func SpecOf(t OrderType) OrderTypeSpec {
	switch v := t.(type) {
	case Limit:
		return OrderTypeSpec{Kind: KindLimit, Price: v.Price}
	case Stop:
		return OrderTypeSpec{Kind: KindStop, StopPrice: v.StopPrice}
	case StopLimit:
		return OrderTypeSpec{Kind: KindStopLimit, StopPrice: v.StopPrice, LimitPrice: v.LimitPrice}
	case TrailingStop:
		return OrderTypeSpec{Kind: KindTrailingStop, StopPrice: v.StopPrice, Trail: v.Trail}
	case Iceberg:
		return OrderTypeSpec{Kind: KindIceberg, Price: v.Price, DisplayQuantity: v.DisplayQuantity}
	case TWAP:
		return OrderTypeSpec{Kind: KindTWAP, LimitPrice: v.LimitPrice, Horizon: v.Horizon}
	case VWAP:
		return OrderTypeSpec{Kind: KindVWAP, LimitPrice: v.LimitPrice, Horizon: v.Horizon}
	case Peg:
		return OrderTypeSpec{Kind: KindPeg, PegReference: v.Reference, Offset: v.Offset}
	default:
		return OrderTypeSpec{Kind: KindMarket}
	}
}

// Build converts the spec into its variant. Field validation happens in
// ValidateOrderType, which needs the order quantity.
func (s OrderTypeSpec) Build() (OrderType, error) {
	switch s.Kind {
	case KindMarket:
		return Market{}, nil
	case KindLimit:
		return Limit{Price: s.Price}, nil
	case KindStop:
		return Stop{StopPrice: s.StopPrice}, nil
	case KindStopLimit:
		return StopLimit{StopPrice: s.StopPrice, LimitPrice: s.LimitPrice}, nil
	case KindTrailingStop:
		return TrailingStop{StopPrice: s.StopPrice, Trail: s.Trail}, nil
	case KindIceberg:
		return Iceberg{Price: s.Price, DisplayQuantity: s.DisplayQuantity}, nil
	case KindTWAP:
		return TWAP{LimitPrice: s.LimitPrice, Horizon: s.Horizon}, nil
	case KindVWAP:
		return VWAP{LimitPrice: s.LimitPrice, Horizon: s.Horizon}, nil
	case KindPeg:
		return Peg{Reference: s.PegReference, Offset: s.Offset}, nil
	}
	return nil, InvalidParams("unknown order type %q", s.Kind)
}

// ValidateOrderType checks the type specific fields of t against the order
// quantity.
func ValidateOrderType(t OrderType, qty decimal.Decimal) error {
	if t == nil {
		return InvalidParams("order type is required")
	}
	if err := t.validate(qty); err != nil {
		return fmt.Errorf("%s order: %w", t.Kind(), err)
	}
	return nil
}
