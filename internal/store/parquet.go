package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// ExecutionRecord is the Parquet schema for an archived execution. Decimals
// are kept as strings so no precision is lost; times are Unix milliseconds.
type ExecutionRecord struct {
	ID             string `parquet:"id"`
	OrderID        string `parquet:"order_id"`
	AccountID      string `parquet:"account_id"`
	SecurityID     string `parquet:"security_id"`
	Symbol         string `parquet:"symbol"`
	Side           string `parquet:"side"`
	Quantity       string `parquet:"quantity"`
	Price          string `parquet:"price"`
	Venue          string `parquet:"venue"`
	Liquidity      string `parquet:"liquidity"`
	Commission     string `parquet:"commission"`
	Fees           string `parquet:"fees"`
	ExecutedAt     int64  `parquet:"executed_at"`
	SettlementDate int64  `parquet:"settlement_date"`
}

// ParquetArchive stores executions as Parquet files, one file per account
// per trading date.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a ParquetArchive rooted at dataDir.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

var _ ExecutionArchive = (*ParquetArchive)(nil)

// ---------------------------------------------------------------------------
// ExecutionArchive implementation
// ---------------------------------------------------------------------------

// WriteExecutions merges executions into the per-account daily files.
// Re-archiving an execution replaces the earlier copy.
func (a *ParquetArchive) WriteExecutions(ctx context.Context, execs []domain.Execution) error {
	if len(execs) == 0 {
		return nil
	}

	type key struct {
		account string
		date    string // YYYY-MM-DD, UTC
	}
	groups := make(map[key][]ExecutionRecord)
	for _, e := range execs {
		k := key{account: e.AccountID, date: e.ExecutedAt.UTC().Format(time.DateOnly)}
		groups[k] = append(groups[k], toRecord(e))
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		day, _ := time.Parse(time.DateOnly, k.date)
		path := a.executionPath(k.account, day)

		existing, err := readParquetFile[ExecutionRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading executions for %s/%s: %w", k.account, k.date, err)
		}
		merged := mergeExecutionRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing executions for %s/%s: %w", k.account, k.date, err)
		}
	}
	return nil
}

// ReadExecutions returns archived executions of an account executed in
// [start, end], oldest first.
func (a *ParquetArchive) ReadExecutions(_ context.Context, accountID string, start, end time.Time) ([]domain.Execution, error) {
	var execs []domain.Execution
	first := start.UTC().Truncate(24 * time.Hour)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[ExecutionRecord](a.executionPath(accountID, d))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, r := range records {
			ts := time.UnixMilli(r.ExecutedAt).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			e, err := fromRecord(r)
			if err != nil {
				return nil, fmt.Errorf("decoding execution %s: %w", r.ID, err)
			}
			execs = append(execs, e)
		}
	}
	return execs, nil
}

// ---------------------------------------------------------------------------
// Record conversion
// ---------------------------------------------------------------------------

func toRecord(e domain.Execution) ExecutionRecord {
	var settle int64
	if !e.SettlementDate.IsZero() {
		settle = e.SettlementDate.UnixMilli()
	}
	return ExecutionRecord{
		ID:             e.ID,
		OrderID:        e.OrderID,
		AccountID:      e.AccountID,
		SecurityID:     e.SecurityID,
		Symbol:         e.Symbol,
		Side:           string(e.Side),
		Quantity:       e.Quantity.String(),
		Price:          e.Price.String(),
		Venue:          e.Venue,
		Liquidity:      string(e.Liquidity),
		Commission:     e.Commission.String(),
		Fees:           e.Fees.String(),
		ExecutedAt:     e.ExecutedAt.UnixMilli(),
		SettlementDate: settle,
	}
}

func fromRecord(r ExecutionRecord) (domain.Execution, error) {
	e := domain.Execution{
		ID:         r.ID,
		OrderID:    r.OrderID,
		AccountID:  r.AccountID,
		SecurityID: r.SecurityID,
		Symbol:     r.Symbol,
		Side:       domain.Side(r.Side),
		Venue:      r.Venue,
		Liquidity:  domain.Liquidity(r.Liquidity),
		ExecutedAt: time.UnixMilli(r.ExecutedAt).UTC(),
	}
	if r.SettlementDate != 0 {
		e.SettlementDate = time.UnixMilli(r.SettlementDate).UTC()
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Quantity, r.Quantity},
		{&e.Price, r.Price},
		{&e.Commission, r.Commission},
		{&e.Fees, r.Fees},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return e, err
		}
		*f.dst = v
	}
	return e, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// executionPath returns the filesystem path for an execution Parquet file.
// Layout: <dataDir>/executions/<ACCOUNT>/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) executionPath(accountID string, t time.Time) string {
	return filepath.Join(a.DataDir, "executions", accountID, t.UTC().Format(time.DateOnly)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeExecutionRecords deduplicates records by execution ID, preferring
// incoming over existing. Results are sorted by execution time.
func mergeExecutionRecords(existing, incoming []ExecutionRecord) []ExecutionRecord {
	seen := make(map[string]ExecutionRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]ExecutionRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].ExecutedAt != merged[j].ExecutedAt {
			return merged[i].ExecutedAt < merged[j].ExecutedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
