// Package jobs runs the server's background work: scheduled surveillance
// scans, day-order expiry at the session close and the end-of-day
// execution archive.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tradegate/internal/domain"
	"tradegate/internal/store"
	"tradegate/internal/surveillance"
	"tradegate/internal/util"
)

// Job is a long-running background process.
type Job interface {
	// Name returns the job identifier.
	Name() string
	// Run does the job's work until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is a span of trading dates, both ends included.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// RunAll runs jobs concurrently until ctx is cancelled or one fails.
func RunAll(ctx context.Context, log *slog.Logger, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			log.Info("job started", "job", j.Name())
			err := j.Run(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error("job failed", "job", j.Name(), "error", err)
				return err
			}
			log.Info("job stopped", "job", j.Name())
			return nil
		})
	}
	return g.Wait()
}

// sleepUntil blocks until t or until ctx is done, whichever is first.
func sleepUntil(ctx context.Context, now, t time.Time) error {
	timer := time.NewTimer(t.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Surveillance
// ---------------------------------------------------------------------------

// Scanner runs surveillance scans.
type Scanner interface {
	ScanActive(ctx context.Context) ([]domain.Alert, error)
}

var _ Scanner = (*surveillance.Engine)(nil)

// SurveillanceJob scans every active account at a fixed interval.
type SurveillanceJob struct {
	scanner  Scanner
	interval time.Duration
	log      *slog.Logger
}

// NewSurveillanceJob creates a SurveillanceJob.
func NewSurveillanceJob(s Scanner, interval time.Duration, log *slog.Logger) *SurveillanceJob {
	return &SurveillanceJob{scanner: s, interval: interval, log: log.With("job", "surveillance")}
}

func (j *SurveillanceJob) Name() string { return "surveillance" }

func (j *SurveillanceJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := j.scanner.ScanActive(ctx); err != nil && ctx.Err() == nil {
				j.log.Error("scheduled scan failed", "error", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Session close: expiry and archive
// ---------------------------------------------------------------------------

// Expirer expires day orders whose session has closed.
type Expirer interface {
	ExpireDayOrders(ctx context.Context, now time.Time) (int, error)
}

// CloseJob runs once after every regular session close: it expires the
// day's working day orders and archives the day's executions.
type CloseJob struct {
	expirer Expirer
	archive *Archiver
	cal     *util.TradingCalendar
	log     *slog.Logger
	now     func() time.Time
}

// NewCloseJob creates a CloseJob. archive may be nil.
func NewCloseJob(e Expirer, archive *Archiver, cal *util.TradingCalendar, log *slog.Logger) *CloseJob {
	return &CloseJob{expirer: e, archive: archive, cal: cal, log: log.With("job", "close"), now: time.Now}
}

func (j *CloseJob) Name() string { return "session-close" }

func (j *CloseJob) Run(ctx context.Context) error {
	// Catch up on a close that passed while the server was down.
	if err := j.RunOnce(ctx, j.now()); err != nil {
		j.log.Error("close catch-up failed", "error", err)
	}
	for {
		now := j.now()
		next := j.cal.NextClose(now)
		if next.IsZero() {
			next = now.Add(24 * time.Hour)
		}
		j.log.Debug("waiting for session close", "at", next)
		if err := sleepUntil(ctx, now, next.Add(time.Second)); err != nil {
			return err
		}
		if err := j.RunOnce(ctx, j.now()); err != nil {
			j.log.Error("close processing failed", "error", err)
		}
	}
}

// RunOnce expires day orders as of now and archives the executions of
// now's trading date.
func (j *CloseJob) RunOnce(ctx context.Context, now time.Time) error {
	n, err := j.expirer.ExpireDayOrders(ctx, now)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info("expired day orders", "count", n)
	}
	if j.archive == nil {
		return nil
	}
	day := j.cal.StartOfDay(now)
	_, err = j.archive.Archive(ctx, DateRange{Start: day, End: day})
	return err
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

// Archiver copies executions from the live store into the execution archive.
type Archiver struct {
	store   store.ExecutionStore
	archive store.ExecutionArchive
	cal     *util.TradingCalendar
	log     *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(s store.ExecutionStore, a store.ExecutionArchive, cal *util.TradingCalendar, log *slog.Logger) *Archiver {
	return &Archiver{store: s, archive: a, cal: cal, log: log.With("component", "archiver")}
}

// Archive writes the executions of every date in r to the archive and
// returns how many were written. Archiving a date twice is harmless.
func (a *Archiver) Archive(ctx context.Context, r DateRange) (int, error) {
	total := 0
	for day := a.cal.StartOfDay(r.Start); !day.After(r.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		execs, err := a.store.ExecutionsBetween(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			return total, err
		}
		if len(execs) == 0 {
			continue
		}
		if err := a.archive.WriteExecutions(ctx, execs); err != nil {
			return total, err
		}
		total += len(execs)
		a.log.Info("executions archived", "date", a.cal.TradingDate(day), "count", len(execs))
	}
	return total, nil
}
