package compliance

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/marketdata"
	"tradegate/internal/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Tuesday 2024-03-05 10:00 New York.
var now = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func newGate(t *testing.T) *Gate {
	t.Helper()
	cal, err := util.NewTradingCalendar("America/New_York", nil)
	require.NoError(t, err)
	return NewGate(RatesFromConfig(config.Default().Compliance), cal)
}

func baseInput() Input {
	return Input{
		Account: &domain.Account{
			ID:            "acct-1",
			KYCStatus:     domain.KYCApproved,
			Cash:          d("10000"),
			Leverage:      d("1"),
			RiskTolerance: domain.RiskModerate,
		},
		Security: &domain.Security{ID: "sec-xyz", Symbol: "XYZ", Type: domain.SecurityEquity},
		Order: &domain.Order{
			ID:          "ord-1",
			AccountID:   "acct-1",
			SecurityID:  "sec-xyz",
			Symbol:      "XYZ",
			Side:        domain.SideBuy,
			Type:        domain.Market{},
			Quantity:    d("100"),
			TimeInForce: domain.TIFDay,
		},
		Quote: marketdata.Quote{Symbol: "XYZ", Last: d("50"), Bid: d("49.9"), Ask: d("50.1"), PrevClose: d("50")},
		Now:   now,
	}
}

func result(t *testing.T, dec domain.Decision, rule string) domain.RuleResult {
	t.Helper()
	for _, r := range dec.Results {
		if r.Rule == rule {
			return r
		}
	}
	t.Fatalf("rule %s not evaluated", rule)
	return domain.RuleResult{}
}

func TestGateAdmitsPlainEquityBuy(t *testing.T) {
	g := newGate(t)
	dec := g.Evaluate(baseInput())

	assert.True(t, dec.Admitted(), "failures: %v", dec.Failures())
	assert.True(t, dec.RequiredMargin.Equal(d("1250")), "required margin %s", dec.RequiredMargin)
	assert.Equal(t, now, dec.EvaluatedAt)

	var rules []string
	for _, r := range dec.Results {
		rules = append(rules, r.Rule)
	}
	assert.Equal(t, []string{
		RuleRestrictedSecurity, RuleRegSHO, RulePositionLimit, RuleDailyLossLimit,
		RuleMargin, RulePatternDayTrader, RulePermission,
	}, rules)
}

func TestGateInsufficientBuyingPower(t *testing.T) {
	g := newGate(t)
	in := baseInput()
	in.Order.Type = domain.Limit{Price: d("500")}

	dec := g.Evaluate(in)
	require.False(t, dec.Admitted())
	r := result(t, dec, RuleMargin)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "required 12500.00")
	assert.Contains(t, r.Reason, "available 10000.00")
}

func TestGateRestrictedSecurity(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name   string
		mutate func(*Input)
		want   string
	}{
		{"restricted list", func(in *Input) { in.Security.Restricted = true }, "restricted list"},
		{"halted flag", func(in *Input) { in.Security.Halted = true }, "halted"},
		{"regulatory halt", func(in *Input) {
			in.Halts = []domain.Halt{{Level: 0, Reason: "news pending", Start: now.Add(-time.Minute)}}
		}, "news pending"},
		{"circuit breaker halt", func(in *Input) {
			in.Halts = []domain.Halt{{Level: 1, Start: now.Add(-time.Minute), End: now.Add(14 * time.Minute)}}
		}, "level 1"},
		{"firm restriction", func(in *Input) {
			in.Restrictions = []domain.Restriction{{SecurityID: "sec-xyz", Reason: "pending merger"}}
		}, "pending merger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			r := result(t, g.Evaluate(in), RuleRestrictedSecurity)
			assert.False(t, r.Passed)
			assert.Contains(t, r.Reason, tt.want)
		})
	}

	t.Run("expired halt", func(t *testing.T) {
		in := baseInput()
		in.Halts = []domain.Halt{{Level: 1, Start: now.Add(-time.Hour), End: now.Add(-45 * time.Minute)}}
		assert.True(t, result(t, g.Evaluate(in), RuleRestrictedSecurity).Passed)
	})
}

func TestGateHoldingPeriod(t *testing.T) {
	g := newGate(t)
	restriction := domain.Restriction{
		SecurityID:    "sec-xyz",
		AccountID:     "acct-1",
		Reason:        "rule 144",
		HoldingMonths: 6,
		AcquiredAt:    time.Date(2023, 9, 5, 16, 0, 0, 0, time.UTC),
	}

	in := baseInput()
	in.Order.Side = domain.SideSell
	in.Restrictions = []domain.Restriction{restriction}
	r := result(t, g.Evaluate(in), RuleRestrictedSecurity)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "ends 2024-03-05")

	in.Now = restriction.HoldingEnds()
	assert.True(t, result(t, g.Evaluate(in), RuleRestrictedSecurity).Passed)

	buy := baseInput()
	buy.Restrictions = []domain.Restriction{restriction}
	assert.True(t, result(t, g.Evaluate(buy), RuleRestrictedSecurity).Passed)
}

func TestGateRegSHO(t *testing.T) {
	g := newGate(t)

	short := func() Input {
		in := baseInput()
		in.Account.ShortApproved = true
		in.Order.Side = domain.SideSellShort
		return in
	}

	t.Run("threshold needs locate", func(t *testing.T) {
		in := short()
		in.Security.RegSHOThreshold = true
		assert.False(t, result(t, g.Evaluate(in), RuleRegSHO).Passed)

		in.Order.LocateID = "loc-1"
		assert.True(t, result(t, g.Evaluate(in), RuleRegSHO).Passed)
	})

	t.Run("hard to borrow warns", func(t *testing.T) {
		in := short()
		in.Security.HardToBorrow = true
		dec := g.Evaluate(in)
		assert.True(t, dec.Admitted())
		require.Len(t, dec.Warnings, 1)
		assert.Contains(t, dec.Warnings[0], "hard to borrow")
	})

	t.Run("ssr from price drop", func(t *testing.T) {
		in := short()
		in.Quote = marketdata.Quote{Last: d("45"), Bid: d("44.9"), Ask: d("45.1"), PrevClose: d("50")}
		assert.False(t, result(t, g.Evaluate(in), RuleRegSHO).Passed, "market short under SSR")

		in.Order.Type = domain.Limit{Price: d("44.9")}
		assert.False(t, result(t, g.Evaluate(in), RuleRegSHO).Passed, "limit at the bid")

		in.Order.Type = domain.Limit{Price: d("44.95")}
		assert.True(t, result(t, g.Evaluate(in), RuleRegSHO).Passed, "limit above the bid")
	})

	t.Run("ssr flag", func(t *testing.T) {
		in := short()
		in.Security.SSRActive = true
		assert.False(t, result(t, g.Evaluate(in), RuleRegSHO).Passed)
	})

	t.Run("long sale unaffected", func(t *testing.T) {
		in := baseInput()
		in.Order.Side = domain.SideSell
		in.Security.SSRActive = true
		in.Security.RegSHOThreshold = true
		assert.True(t, result(t, g.Evaluate(in), RuleRegSHO).Passed)
	})
}

func TestGatePositionLimit(t *testing.T) {
	g := newGate(t)
	in := baseInput()
	in.Account.PositionLimit = d("150")
	in.Position = &domain.Position{Quantity: d("60")}

	assert.False(t, result(t, g.Evaluate(in), RulePositionLimit).Passed)

	in.Order.Side = domain.SideSell
	assert.True(t, result(t, g.Evaluate(in), RulePositionLimit).Passed, "60 - 100 = -40")

	in.Account.PositionLimit = decimal.Zero
	in.Order.Side = domain.SideBuy
	assert.True(t, result(t, g.Evaluate(in), RulePositionLimit).Passed, "zero limit means unlimited")
}

func TestGateDailyLossLimit(t *testing.T) {
	g := newGate(t)
	in := baseInput()
	in.Account.DailyLossLimit = d("1000")
	in.Account.DailyRealizedPnL = d("-900")
	in.Account.PnLDate = "2024-03-05"
	in.UnrealizedPnL = d("-200")

	assert.False(t, result(t, g.Evaluate(in), RuleDailyLossLimit).Passed)

	in.Account.PnLDate = "2024-03-04"
	assert.True(t, result(t, g.Evaluate(in), RuleDailyLossLimit).Passed, "yesterday's losses do not count")
}

func TestRequiredMargin(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name  string
		sec   domain.Security
		side  domain.Side
		typ   domain.OrderType
		qty   string
		under string
		want  string
	}{
		{"equity market", domain.Security{Type: domain.SecurityEquity}, domain.SideBuy, domain.Market{}, "100", "", "1250"},
		{"etf limit", domain.Security{Type: domain.SecurityETF}, domain.SideBuy, domain.Limit{Price: d("40")}, "10", "", "100"},
		{"stop uses stop price", domain.Security{Type: domain.SecurityEquity}, domain.SideSell, domain.Stop{StopPrice: d("48")}, "100", "", "1200"},
		{"long option", domain.Security{Type: domain.SecurityOption}, domain.SideBuy, domain.Limit{Price: d("3.5")}, "2", "", "700"},
		{"short option", domain.Security{Type: domain.SecurityOption}, domain.SideSell, domain.Limit{Price: d("2")}, "1", "100", "2200"},
		{"future", domain.Security{Type: domain.SecurityFuture, Multiplier: d("50"), InitialMarginRate: d("0.1")}, domain.SideBuy, domain.Limit{Price: d("4000")}, "2", "", "40000"},
		{"future default rate", domain.Security{Type: domain.SecurityFuture}, domain.SideBuy, domain.Limit{Price: d("100")}, "1", "", "10"},
		{"crypto default", domain.Security{Type: domain.SecurityCrypto}, domain.SideBuy, domain.Limit{Price: d("30000")}, "0.5", "", "7500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			sec := tt.sec
			in.Security = &sec
			in.Order.Side = tt.side
			in.Order.Type = tt.typ
			in.Order.Quantity = d(tt.qty)
			if tt.under != "" {
				in.UnderlyingPrice = d(tt.under)
			}
			got := g.RequiredMargin(&in)
			assert.True(t, got.Equal(d(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestEquityMarginProperty(t *testing.T) {
	g := newGate(t)
	rapid.Check(t, func(rt *rapid.T) {
		qty := rapid.Int64Range(1, 1_000_000).Draw(rt, "qty")
		cents := rapid.Int64Range(1, 10_000_00).Draw(rt, "cents")

		in := baseInput()
		price := decimal.New(cents, -2)
		in.Order.Quantity = decimal.NewFromInt(qty)
		in.Order.Type = domain.Limit{Price: price}

		want := decimal.NewFromInt(qty).Mul(price).Mul(d("0.25"))
		if got := g.RequiredMargin(&in); !got.Equal(want) {
			rt.Fatalf("required %s, want %s", got, want)
		}
	})
}

func TestGatePatternDayTrader(t *testing.T) {
	g := newGate(t)

	fills := func(trips int) []domain.Execution {
		var out []domain.Execution
		for i := 0; i < trips; i++ {
			at := now.AddDate(0, 0, -i%3).Add(-time.Hour)
			out = append(out,
				domain.Execution{OrderID: "b" + string(rune('a'+i)), SecurityID: "sec-xyz", Side: domain.SideBuy, ExecutedAt: at},
				domain.Execution{OrderID: "s" + string(rune('a'+i)), SecurityID: "sec-xyz", Side: domain.SideSell, ExecutedAt: at.Add(time.Minute)},
			)
		}
		return out
	}

	in := baseInput()
	in.Account.Cash = d("20000")
	in.Executions = fills(4)
	r := result(t, g.Evaluate(in), RulePatternDayTrader)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "4 round trips")

	in.Executions = fills(3)
	assert.True(t, result(t, g.Evaluate(in), RulePatternDayTrader).Passed)

	in.Executions = fills(4)
	in.Account.MarginBalance = d("5000")
	assert.True(t, result(t, g.Evaluate(in), RulePatternDayTrader).Passed, "equity at the minimum")
}

func TestRoundTripsIgnoresOldAndOneSided(t *testing.T) {
	date := func(t time.Time) string { return t.UTC().Format(time.DateOnly) }
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	execs := []domain.Execution{
		{OrderID: "1", SecurityID: "A", Side: domain.SideBuy, ExecutedAt: since.Add(-time.Hour)},
		{OrderID: "2", SecurityID: "A", Side: domain.SideSell, ExecutedAt: since.Add(-time.Minute)},
		{OrderID: "3", SecurityID: "A", Side: domain.SideBuy, ExecutedAt: since.Add(time.Hour)},
		{OrderID: "3", SecurityID: "A", Side: domain.SideBuy, ExecutedAt: since.Add(2 * time.Hour)},
		{OrderID: "4", SecurityID: "B", Side: domain.SideSell, ExecutedAt: since.Add(time.Hour)},
		{OrderID: "5", SecurityID: "A", Side: domain.SideSellShort, ExecutedAt: since.Add(3 * time.Hour)},
	}
	assert.Equal(t, 1, RoundTrips(execs, since, date))
}

func TestGatePermission(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name   string
		mutate func(*Input)
		pass   bool
	}{
		{"long option level 1", func(in *Input) {
			in.Security.Type = domain.SecurityOption
			in.Account.OptionsLevel = 1
		}, true},
		{"sell option needs level 2", func(in *Input) {
			in.Security.Type = domain.SecurityOption
			in.Account.OptionsLevel = 1
			in.Order.Side = domain.SideSell
		}, false},
		{"spread needs level 3", func(in *Input) {
			in.Security.Type = domain.SecurityOption
			in.Account.OptionsLevel = 2
			in.Order.OptionStrategy = domain.OptionSpread
		}, false},
		{"futures approval", func(in *Input) { in.Security.Type = domain.SecurityFuture }, false},
		{"forex approval", func(in *Input) { in.Security.Type = domain.SecurityForex }, false},
		{"crypto approved", func(in *Input) {
			in.Security.Type = domain.SecurityCrypto
			in.Account.CryptoApproved = true
		}, true},
		{"short approval", func(in *Input) { in.Order.Side = domain.SideSellShort }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			assert.Equal(t, tt.pass, result(t, g.Evaluate(in), RulePermission).Passed)
		})
	}
}

func TestSuitabilityWarning(t *testing.T) {
	g := newGate(t)
	in := baseInput()
	in.Account.RiskTolerance = domain.RiskConservative
	in.Account.OptionsLevel = 1
	in.Security.Type = domain.SecurityOption
	in.Order.Type = domain.Limit{Price: d("1")}

	dec := g.Evaluate(in)
	assert.True(t, dec.Admitted(), "suitability never blocks: %v", dec.Failures())
	require.Len(t, dec.Warnings, 1)
	assert.True(t, strings.HasPrefix(dec.Warnings[0], "suitability: option"))
}

func TestFailuresListEveryReason(t *testing.T) {
	g := newGate(t)
	in := baseInput()
	in.Security.Restricted = true
	in.Order.Type = domain.Limit{Price: d("500")}

	dec := g.Evaluate(in)
	failures := dec.Failures()
	require.Len(t, failures, 2)
	assert.True(t, strings.HasPrefix(failures[0], RuleRestrictedSecurity+": "))
	assert.True(t, strings.HasPrefix(failures[1], RuleMargin+": "))
}
