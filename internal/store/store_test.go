package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(id string, created time.Time) *domain.Order {
	return &domain.Order{
		ID:          id,
		AccountID:   "acct-1",
		SecurityID:  "sec-aapl",
		Symbol:      "AAPL",
		Side:        domain.SideBuy,
		Type:        domain.StopLimit{StopPrice: dec("101"), LimitPrice: dec("102.5")},
		Quantity:    dec("100"),
		Remaining:   dec("100"),
		TimeInForce: domain.TIFDay,
		Status:      domain.StatusPendingSubmit,
		Route:       domain.Route{Strategy: "direct", Venues: []string{"primary"}},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestSQLiteAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetAccount(missing) err = %v, want ErrNotFound", err)
	}

	acct := &domain.Account{
		ID:             "acct-1",
		KYCStatus:      domain.KYCApproved,
		Cash:           dec("100000.25"),
		MarginBalance:  dec("5000"),
		ReservedMargin: dec("12.5"),
		Leverage:       dec("2"),
		RiskTolerance:  domain.RiskModerate,
		OptionsLevel:   2,
		ShortApproved:  true,
		PositionLimit:  dec("1000"),
		PnLDate:        "2024-03-04",
		UpdatedAt:      time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC),
	}
	if err := s.SaveAccount(ctx, acct); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	got, err := s.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Cash.Equal(acct.Cash) || !got.ReservedMargin.Equal(acct.ReservedMargin) {
		t.Errorf("balances = %s/%s, want %s/%s", got.Cash, got.ReservedMargin, acct.Cash, acct.ReservedMargin)
	}
	if got.KYCStatus != domain.KYCApproved || got.OptionsLevel != 2 || !got.ShortApproved || got.FuturesApproved {
		t.Errorf("flags not preserved: %+v", got)
	}
	if !got.UpdatedAt.Equal(acct.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, acct.UpdatedAt)
	}
}

func TestSQLiteSecurityBySymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sec := &domain.Security{ID: "sec-aapl", Symbol: " aapl", Type: domain.SecurityEquity, OutstandingShares: 15_000_000_000}
	if err := s.SaveSecurity(ctx, sec); err != nil {
		t.Fatalf("SaveSecurity: %v", err)
	}
	got, err := s.GetSecurityBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetSecurityBySymbol: %v", err)
	}
	if got.ID != "sec-aapl" || got.Symbol != "AAPL" || got.OutstandingShares != 15_000_000_000 {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteRestrictionsScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	for _, r := range []*domain.Restriction{
		{SecurityID: "sec-1", Reason: "firm-wide", CreatedAt: now},
		{SecurityID: "sec-1", AccountID: "acct-1", Reason: "rule 144", HoldingMonths: 6, AcquiredAt: now, CreatedAt: now},
		{SecurityID: "sec-1", AccountID: "acct-2", Reason: "other account", CreatedAt: now},
	} {
		if err := s.AddRestriction(ctx, r); err != nil {
			t.Fatalf("AddRestriction: %v", err)
		}
		if r.ID == 0 {
			t.Errorf("restriction %q got no ID", r.Reason)
		}
	}

	got, err := s.Restrictions(ctx, "sec-1", "acct-1")
	if err != nil {
		t.Fatalf("Restrictions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d restrictions, want 2", len(got))
	}
	if got[1].HoldingMonths != 6 || !got[1].AcquiredAt.Equal(now) {
		t.Errorf("holding period not preserved: %+v", got[1])
	}
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

	o := sampleOrder("ord-1", created)
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	sl, ok := got.Type.(domain.StopLimit)
	if !ok {
		t.Fatalf("Type = %T, want StopLimit", got.Type)
	}
	if !sl.StopPrice.Equal(dec("101")) || !sl.LimitPrice.Equal(dec("102.5")) {
		t.Errorf("stop limit = %+v", sl)
	}
	if got.Route.Strategy != "direct" || len(got.Route.Venues) != 1 {
		t.Errorf("route = %+v", got.Route)
	}
	if string(got.Compliance) != "{}" {
		t.Errorf("Compliance = %s, want {}", got.Compliance)
	}

	at := created.Add(time.Minute)
	if err := got.Transition(domain.StatusSubmitted, at); err != nil {
		t.Fatal(err)
	}
	got.Route.VenueRef = "venue-123"
	if err := s.UpdateOrder(ctx, got); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	again, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != domain.StatusSubmitted || !again.SubmittedAt.Equal(at) || again.Route.VenueRef != "venue-123" {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := s.UpdateOrder(ctx, sampleOrder("ghost", created)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateOrder(ghost) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteOrderQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		o := sampleOrder(id, base.Add(time.Duration(i)*time.Hour))
		if id == "c" {
			o.AccountID = "acct-2"
			o.Status = domain.StatusSubmitted
		}
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	byAcct, err := s.OrdersByAccount(ctx, "acct-1", base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(byAcct) != 1 || byAcct[0].ID != "b" {
		t.Errorf("OrdersByAccount = %v", ids(byAcct))
	}

	bySec, err := s.OrdersBySecurity(ctx, "sec-aapl", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(bySec) != 3 || bySec[0].ID != "a" {
		t.Errorf("OrdersBySecurity = %v", ids(bySec))
	}

	working, err := s.OrdersByStatus(ctx, domain.StatusSubmitted, domain.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(working) != 1 || working[0].ID != "c" {
		t.Errorf("OrdersByStatus = %v", ids(working))
	}

	old := sampleOrder("d", base.Add(-2*time.Hour))
	if err := s.InsertOrder(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := old.Transition(domain.StatusCancelled, base.Add(90*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateOrder(ctx, old); err != nil {
		t.Fatal(err)
	}
	touched, err := s.OrdersTouchedSince(ctx, "acct-1", base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(touched); len(got) != 2 || got[0] != "d" || got[1] != "b" {
		t.Errorf("OrdersTouchedSince = %v, want [d b]", got)
	}

	active, err := s.ActiveAccounts(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("ActiveAccounts = %v, want 2 accounts", active)
	}
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestSQLiteAtomicRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx Store) error {
		if err := tx.SaveAccount(ctx, &domain.Account{ID: "acct-1", Cash: dec("10")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic err = %v, want boom", err)
	}
	if _, err := s.GetAccount(ctx, "acct-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("account visible after rollback: err = %v", err)
	}

	err = s.Atomic(ctx, func(tx Store) error {
		return tx.Atomic(ctx, func(inner Store) error {
			return inner.SaveAccount(ctx, &domain.Account{ID: "acct-1", Cash: dec("10")})
		})
	})
	if err != nil {
		t.Fatalf("nested Atomic: %v", err)
	}
	if _, err := s.GetAccount(ctx, "acct-1"); err != nil {
		t.Errorf("account missing after commit: %v", err)
	}
}

func TestSQLiteExecutionIDsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	e := &domain.Execution{
		ID: "exec-1", OrderID: "ord-1", AccountID: "acct-1", SecurityID: "sec-aapl", Symbol: "AAPL",
		Side: domain.SideBuy, Quantity: dec("50"), Price: dec("100.10"), Venue: "primary",
		Liquidity: domain.LiquidityRemove, Commission: dec("1"), ExecutedAt: at,
		SettlementDate: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	if err := s.InsertExecution(ctx, e); err != nil {
		t.Fatalf("InsertExecution: %v", err)
	}
	if err := s.InsertExecution(ctx, e); err == nil {
		t.Fatal("duplicate execution ID accepted")
	}

	got, err := s.ExecutionsByOrder(ctx, "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Price.Equal(dec("100.1")) || !got[0].SettlementDate.Equal(e.SettlementDate) {
		t.Errorf("ExecutionsByOrder = %+v", got)
	}

	between, err := s.ExecutionsBetween(ctx, at, at.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(between) != 1 {
		t.Errorf("ExecutionsBetween = %d, want 1", len(between))
	}
	none, err := s.ExecutionsBetween(ctx, at.Add(-time.Hour), at)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("end bound should be exclusive, got %d", len(none))
	}
}

func TestSQLitePositionsAndAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	if _, err := s.GetPosition(ctx, "acct-1", "sec-aapl"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPosition err = %v, want ErrNotFound", err)
	}
	p := &domain.Position{AccountID: "acct-1", SecurityID: "sec-aapl", Symbol: "AAPL", Quantity: dec("-20"), AvgCost: dec("99.5"), UpdatedAt: at}
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatal(err)
	}
	ps, err := s.PositionsByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 || !ps[0].Quantity.Equal(dec("-20")) {
		t.Errorf("PositionsByAccount = %+v", ps)
	}

	alert := &domain.Alert{
		ID:        "alert-1",
		AccountID: "acct-1",
		Detections: []domain.Detection{
			{Kind: domain.DetectSpoofing, Severity: domain.SeverityHigh, SecurityID: "sec-aapl", Detail: "12 cancels"},
		},
		RiskScore:      30,
		RequiresReview: false,
		WindowStart:    at.Add(-time.Hour),
		WindowEnd:      at,
		CreatedAt:      at,
	}
	if err := s.InsertAlert(ctx, alert); err != nil {
		t.Fatal(err)
	}
	alerts, err := s.AlertsByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || len(alerts[0].Detections) != 1 || alerts[0].Detections[0].Kind != domain.DetectSpoofing {
		t.Errorf("AlertsByAccount = %+v", alerts)
	}

	an := &domain.Anomaly{ID: "an-1", Kind: domain.AnomalyOverFill, OrderID: "ord-1", Detail: "fill 10 > remaining 5", CreatedAt: at}
	if err := s.InsertAnomaly(ctx, an); err != nil {
		t.Fatal(err)
	}
	ans, err := s.AnomaliesSince(ctx, at.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(ans) != 1 || ans[0].Kind != domain.AnomalyOverFill {
		t.Errorf("AnomaliesSince = %+v", ans)
	}
}

func TestParquetArchivePath(t *testing.T) {
	a := NewParquetArchive("/data")
	ts := time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC)

	want := filepath.Join("/data", "executions", "acct-1", "2024-06-15.parquet")
	if got := a.executionPath("acct-1", ts); got != want {
		t.Errorf("executionPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetArchiveWriteReadMerge(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	ctx := context.Background()
	day1 := time.Date(2024, 6, 14, 14, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	mk := func(id string, at time.Time, price string) domain.Execution {
		return domain.Execution{
			ID: id, OrderID: "ord-1", AccountID: "acct-1", SecurityID: "sec-aapl", Symbol: "AAPL",
			Side: domain.SideSell, Quantity: dec("10"), Price: dec(price), Venue: "arca",
			Liquidity: domain.LiquidityAdd, Commission: dec("0.05"), Fees: dec("0.0023"),
			ExecutedAt: at, SettlementDate: at.AddDate(0, 0, 2).Truncate(24 * time.Hour),
		}
	}

	if err := a.WriteExecutions(ctx, []domain.Execution{mk("e1", day1, "100.01"), mk("e2", day2, "101")}); err != nil {
		t.Fatalf("WriteExecutions: %v", err)
	}
	// Re-archiving e1 replaces it rather than duplicating it.
	if err := a.WriteExecutions(ctx, []domain.Execution{mk("e1", day1, "100.02"), mk("e3", day1.Add(time.Hour), "99")}); err != nil {
		t.Fatalf("WriteExecutions (merge): %v", err)
	}

	got, err := a.ReadExecutions(ctx, "acct-1", day1.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadExecutions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d executions, want 3", len(got))
	}
	if got[0].ID != "e1" || !got[0].Price.Equal(dec("100.02")) {
		t.Errorf("first = %s @ %s, want e1 @ 100.02", got[0].ID, got[0].Price)
	}
	if !got[0].Fees.Equal(dec("0.0023")) || got[0].Side != domain.SideSell {
		t.Errorf("fields not preserved: %+v", got[0])
	}
	if got[2].ID != "e2" {
		t.Errorf("last = %s, want e2", got[2].ID)
	}

	only, err := a.ReadExecutions(ctx, "acct-1", day2.Add(-time.Minute), day2.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].ID != "e2" {
		t.Errorf("range filter returned %d executions", len(only))
	}

	none, err := a.ReadExecutions(ctx, "acct-unknown", day1, day2)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown account: %v, %d rows", err, len(none))
	}
}
