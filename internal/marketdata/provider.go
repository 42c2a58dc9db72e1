// Package marketdata supplies the reference prices the compliance gate and
// the execution path need: last trade, national best bid and offer, and the
// previous session close.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// Quote is a point-in-time price snapshot for one symbol. Bid or Ask may be
// zero when the side is empty.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	PrevClose decimal.Decimal `json:"prev_close"`
	At        time.Time       `json:"at"`
}

// Mid returns the bid/ask midpoint, or Last when either side is missing.
func (q Quote) Mid() decimal.Decimal {
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return q.Last
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// BestBid returns Bid, falling back to Last.
func (q Quote) BestBid() decimal.Decimal {
	if q.Bid.IsPositive() {
		return q.Bid
	}
	return q.Last
}

// BestAsk returns Ask, falling back to Last.
func (q Quote) BestAsk() decimal.Decimal {
	if q.Ask.IsPositive() {
		return q.Ask
	}
	return q.Last
}

// ChangeFromClose is (Last - PrevClose) / PrevClose, zero without a close.
func (q Quote) ChangeFromClose() decimal.Decimal {
	if !q.PrevClose.IsPositive() || !q.Last.IsPositive() {
		return decimal.Zero
	}
	return q.Last.Sub(q.PrevClose).Div(q.PrevClose)
}

// Provider returns quotes. Implementations must be safe for concurrent use.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// ErrNoQuote is returned when a provider has no price for a symbol.
var ErrNoQuote = errors.New("no quote available")

// ---------------------------------------------------------------------------
// StaticProvider
// ---------------------------------------------------------------------------

var _ Provider = (*StaticProvider)(nil)

// StaticProvider serves quotes set in memory. It backs paper mode and tests.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{quotes: make(map[string]Quote)}
}

// Set stores q under its symbol, replacing any earlier quote.
func (p *StaticProvider) Set(q Quote) {
	q.Symbol = domain.NormalizeSymbol(q.Symbol)
	p.mu.Lock()
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
}

// SetLast is a shorthand for a quote with only a last and previous close.
func (p *StaticProvider) SetLast(symbol string, last, prevClose decimal.Decimal) {
	p.Set(Quote{Symbol: symbol, Last: last, PrevClose: prevClose})
}

// Quote returns the stored quote or ErrNoQuote.
func (p *StaticProvider) Quote(_ context.Context, symbol string) (Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	p.mu.RLock()
	q, ok := p.quotes[symbol]
	p.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}
	return q, nil
}
