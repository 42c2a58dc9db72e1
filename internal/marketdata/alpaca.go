package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/util"
)

var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider builds quotes from Alpaca snapshots (latest trade, latest
// quote and previous daily bar) under a request rate limit.
type AlpacaProvider struct {
	client  *md.Client
	limiter *util.RateLimiter
	feed    string
	log     *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider. An empty dataURL uses the SDK
// default endpoint; perMinute caps snapshot requests.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string, perMinute int, log *slog.Logger) *AlpacaProvider {
	opts := md.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if perMinute <= 0 {
		perMinute = 200
	}
	return &AlpacaProvider{
		client:  md.NewClient(opts),
		limiter: util.NewBurstRateLimiter(perMinute, 10),
		feed:    "sip",
		log:     log.With("component", "marketdata"),
	}
}

// Quote fetches a snapshot for symbol, retrying transient failures.
func (p *AlpacaProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := p.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}

	var snap *md.Snapshot
	err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
		var err error
		snap, err = p.client.GetSnapshot(symbol, md.GetSnapshotRequest{Feed: p.feed})
		return err
	})
	if err != nil {
		p.log.Warn("snapshot failed", "symbol", symbol, "error", err)
		return Quote{}, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if snap == nil || snap.LatestTrade == nil {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}
	return quoteFromSnapshot(symbol, snap), nil
}

func quoteFromSnapshot(symbol string, snap *md.Snapshot) Quote {
	q := Quote{
		Symbol: symbol,
		Last:   decimal.NewFromFloat(snap.LatestTrade.Price),
		At:     snap.LatestTrade.Timestamp,
	}
	if snap.LatestQuote != nil {
		q.Bid = decimal.NewFromFloat(snap.LatestQuote.BidPrice)
		q.Ask = decimal.NewFromFloat(snap.LatestQuote.AskPrice)
	}
	if snap.PrevDailyBar != nil {
		q.PrevClose = decimal.NewFromFloat(snap.PrevDailyBar.Close)
	}
	return q
}
