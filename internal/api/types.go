package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/engine"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// SubmitOrderRequest is the body of POST /api/v1/orders.
type SubmitOrderRequest struct {
	AccountID       string          `json:"account_id" validate:"required"`
	Symbol          string          `json:"symbol" validate:"required"`
	Side            string          `json:"side" validate:"required|in:buy,sell,sell_short,buy_to_cover"`
	Type            string          `json:"type" validate:"required|in:market,limit,stop,stop_limit,trailing_stop,iceberg,twap,vwap,peg"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	Trail           decimal.Decimal `json:"trail"`
	DisplayQuantity decimal.Decimal `json:"display_quantity"`
	Horizon         string          `json:"horizon" validate:"ValidHorizon"`
	PegReference    string          `json:"peg_reference" validate:"in:mid,primary,market"`
	Offset          decimal.Decimal `json:"offset"`
	TimeInForce     string          `json:"time_in_force" validate:"required|in:day,gtc,ioc,fok"`
	ExtendedHours   bool            `json:"extended_hours"`
	LocateID        string          `json:"locate_id"`
	OptionStrategy  string          `json:"option_strategy" validate:"in:single,spread"`
}

func (r SubmitOrderRequest) Messages() map[string]string {
	return validate.MS{
		"required":     "{field} is required",
		"in":           "{field} has an unsupported value",
		"ValidHorizon": "horizon must be a duration such as 30m",
	}
}

func (r SubmitOrderRequest) ValidHorizon(h string) bool {
	if h == "" {
		return true
	}
	_, err := time.ParseDuration(h)
	return err == nil
}

// toEngine converts the request once it has passed validation.
func (r SubmitOrderRequest) toEngine() (engine.SubmitRequest, error) {
	var horizon time.Duration
	if r.Horizon != "" {
		horizon, _ = time.ParseDuration(r.Horizon)
	}
	spec := domain.OrderTypeSpec{
		Kind:            domain.OrderKind(r.Type),
		Price:           r.Price,
		StopPrice:       r.StopPrice,
		LimitPrice:      r.LimitPrice,
		Trail:           r.Trail,
		DisplayQuantity: r.DisplayQuantity,
		Horizon:         horizon,
		PegReference:    domain.PegReference(r.PegReference),
		Offset:          r.Offset,
	}
	t, err := spec.Build()
	if err != nil {
		return engine.SubmitRequest{}, err
	}
	return engine.SubmitRequest{
		AccountID:      r.AccountID,
		Symbol:         r.Symbol,
		Side:           domain.Side(r.Side),
		Type:           t,
		Quantity:       r.Quantity,
		TimeInForce:    domain.TimeInForce(r.TimeInForce),
		ExtendedHours:  r.ExtendedHours,
		LocateID:       r.LocateID,
		OptionStrategy: domain.OptionStrategy(r.OptionStrategy),
	}, nil
}

// FillRequest is the body of POST /api/v1/orders/{id}/fills.
type FillRequest struct {
	ExecutionID string          `json:"execution_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Venue       string          `json:"venue"`
	Liquidity   string          `json:"liquidity" validate:"in:add,remove"`
	Commission  decimal.Decimal `json:"commission"`
	Fees        decimal.Decimal `json:"fees"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func (r FillRequest) toEngine() engine.FillRequest {
	return engine.FillRequest{
		ExecutionID: r.ExecutionID,
		Quantity:    r.Quantity,
		Price:       r.Price,
		Venue:       r.Venue,
		Liquidity:   domain.Liquidity(r.Liquidity),
		Commission:  r.Commission,
		Fees:        r.Fees,
		ExecutedAt:  r.ExecutedAt,
	}
}

// ReconcileRequest is the body of POST /api/v1/orders/{id}/reconcile.
type ReconcileRequest struct {
	Status string `json:"status" validate:"required|in:rejected,cancelled"`
	Note   string `json:"note"`
}

// AccountRequest is the body of PUT /api/v1/accounts/{id}. Reservations and
// realized P&L are owned by the engine and kept from the stored account.
type AccountRequest struct {
	KYCStatus       string          `json:"kyc_status" validate:"required|in:approved,pending,rejected"`
	Cash            decimal.Decimal `json:"cash"`
	MarginBalance   decimal.Decimal `json:"margin_balance"`
	Leverage        decimal.Decimal `json:"leverage"`
	RiskTolerance   string          `json:"risk_tolerance" validate:"in:conservative,moderate,aggressive"`
	OptionsLevel    int             `json:"options_level" validate:"min:0|max:4"`
	FuturesApproved bool            `json:"futures_approved"`
	ForexApproved   bool            `json:"forex_approved"`
	CryptoApproved  bool            `json:"crypto_approved"`
	ShortApproved   bool            `json:"short_approved"`
	PositionLimit   decimal.Decimal `json:"position_limit"`
	DailyLossLimit  decimal.Decimal `json:"daily_loss_limit"`
}

// apply copies the request onto acct.
func (r AccountRequest) apply(acct *domain.Account) {
	acct.KYCStatus = domain.KYCStatus(r.KYCStatus)
	acct.Cash = r.Cash
	acct.MarginBalance = r.MarginBalance
	acct.Leverage = r.Leverage
	if !acct.Leverage.IsPositive() {
		acct.Leverage = decimal.NewFromInt(1)
	}
	acct.RiskTolerance = domain.RiskTolerance(r.RiskTolerance)
	if acct.RiskTolerance == "" {
		acct.RiskTolerance = domain.RiskModerate
	}
	acct.OptionsLevel = r.OptionsLevel
	acct.FuturesApproved = r.FuturesApproved
	acct.ForexApproved = r.ForexApproved
	acct.CryptoApproved = r.CryptoApproved
	acct.ShortApproved = r.ShortApproved
	acct.PositionLimit = r.PositionLimit
	acct.DailyLossLimit = r.DailyLossLimit
}

// SecurityRequest is the body of PUT /api/v1/securities/{symbol}.
type SecurityRequest struct {
	Type              string          `json:"type" validate:"required|in:equity,etf,option,future,forex,crypto,bond"`
	Restricted        bool            `json:"restricted"`
	Halted            bool            `json:"halted"`
	HardToBorrow      bool            `json:"hard_to_borrow"`
	RegSHOThreshold   bool            `json:"reg_sho_threshold"`
	SSRActive         bool            `json:"ssr_active"`
	OutstandingShares int64           `json:"outstanding_shares" validate:"min:0"`
	Multiplier        decimal.Decimal `json:"multiplier"`
	UnderlyingSymbol  string          `json:"underlying_symbol"`
	InitialMarginRate decimal.Decimal `json:"initial_margin_rate"`
}

// RestrictionRequest is the body of POST /api/v1/securities/{symbol}/restrictions.
type RestrictionRequest struct {
	AccountID     string    `json:"account_id"`
	Reason        string    `json:"reason" validate:"required"`
	HoldingMonths int       `json:"holding_months" validate:"min:0"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

// HaltRequest is the body of POST /api/v1/securities/{symbol}/halts.
type HaltRequest struct {
	Reason string    `json:"reason" validate:"required"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// validationError returns the first validation failure of v as text, or ""
// when v is valid.
func validationError(v any) string {
	vd := validate.Struct(v)
	if vd.Validate() {
		return ""
	}
	var msgs []string
	for _, errs := range vd.Errors.All() {
		for _, msg := range errs {
			msgs = append(msgs, msg)
		}
	}
	return strings.Join(msgs, "; ")
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// OrderView is the JSON form of an order.
type OrderView struct {
	ID             string               `json:"id"`
	AccountID      string               `json:"account_id"`
	SecurityID     string               `json:"security_id"`
	Symbol         string               `json:"symbol"`
	Side           domain.Side          `json:"side"`
	Type           domain.OrderTypeSpec `json:"type"`
	Quantity       decimal.Decimal      `json:"quantity"`
	Filled         decimal.Decimal      `json:"filled"`
	Remaining      decimal.Decimal      `json:"remaining"`
	AvgFillPrice   decimal.Decimal      `json:"avg_fill_price"`
	TimeInForce    domain.TimeInForce   `json:"time_in_force"`
	ExtendedHours  bool                 `json:"extended_hours"`
	LocateID       string               `json:"locate_id,omitempty"`
	OptionStrategy string               `json:"option_strategy,omitempty"`
	Status         domain.Status        `json:"status"`
	Route          domain.Route         `json:"route"`
	ReservedMargin decimal.Decimal      `json:"reserved_margin"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
	Compliance     json.RawMessage      `json:"compliance,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	SubmittedAt    *time.Time           `json:"submitted_at,omitempty"`
	ExecutedAt     *time.Time           `json:"executed_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func orderView(o *domain.Order) OrderView {
	return OrderView{
		ID:             o.ID,
		AccountID:      o.AccountID,
		SecurityID:     o.SecurityID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           domain.SpecOf(o.Type),
		Quantity:       o.Quantity,
		Filled:         o.Filled,
		Remaining:      o.Remaining,
		AvgFillPrice:   o.AvgFillPrice,
		TimeInForce:    o.TimeInForce,
		ExtendedHours:  o.ExtendedHours,
		LocateID:       o.LocateID,
		OptionStrategy: string(o.OptionStrategy),
		Status:         o.Status,
		Route:          o.Route,
		ReservedMargin: o.ReservedMargin,
		CancelReason:   o.CancelReason,
		Compliance:     o.Compliance,
		CreatedAt:      o.CreatedAt,
		SubmittedAt:    optionalTime(o.SubmittedAt),
		ExecutedAt:     optionalTime(o.ExecutedAt),
		CancelledAt:    optionalTime(o.CancelledAt),
		UpdatedAt:      o.UpdatedAt,
	}
}

func orderViews(orders []domain.Order) []OrderView {
	out := make([]OrderView, len(orders))
	for i := range orders {
		out[i] = orderView(&orders[i])
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// AccountView adds the derived figures to an account.
type AccountView struct {
	domain.Account
	BuyingPower decimal.Decimal `json:"buying_power"`
	Equity      decimal.Decimal `json:"equity"`
}

func accountView(a *domain.Account) AccountView {
	return AccountView{Account: *a, BuyingPower: a.BuyingPower(), Equity: a.Equity()}
}

// FillView is the response of a recorded fill.
type FillView struct {
	Execution domain.Execution `json:"execution"`
	Order     OrderView        `json:"order"`
	Position  domain.Position  `json:"position"`
	Duplicate bool             `json:"duplicate"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
	Status  string   `json:"status,omitempty"`
}
