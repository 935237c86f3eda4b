// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hlystovea/reservoirs-web/internal/integration"
	"github.com/hlystovea/reservoirs-web/internal/observability"
	"github.com/hlystovea/reservoirs-web/internal/repository"
)

// Fetcher retrieves one document for a built request.
type Fetcher interface {
	Fetch(ctx context.Context, req integration.Request) ([]byte, error)
}

// LoopConfig tunes one acquisition loop. Zero values select the defaults.
type LoopConfig struct {
	// PaceDelay is the politeness pause between units of work.
	PaceDelay time.Duration
	// SleepInterval is the idle period between runs of a long-running loop.
	SleepInterval time.Duration
	// MaxRetries bounds re-fetches of a unit after transient failures.
	MaxRetries int
	// RetryBackoff is the initial wait before a re-fetch; it doubles per attempt.
	RetryBackoff time.Duration
	// MaxRunDuration caps one run so a deep backlog is worked off across
	// several runs instead of one unbounded session.
	MaxRunDuration time.Duration
	// LookBackDays re-reads a trailing window before the cursor to pick up
	// late corrections published by the source.
	LookBackDays int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.PaceDelay == 0 {
		c.PaceDelay = time.Second
	}
	if c.SleepInterval == 0 {
		c.SleepInterval = time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.MaxRunDuration == 0 {
		c.MaxRunDuration = 2 * time.Hour
	}
	return c
}

// RunSummary reports what one run did.
type RunSummary struct {
	Source    string
	Fetched   int
	Parsed    int
	Persisted int
	Skipped   int
	Errored   int
}

// AcquisitionLoop drives one source adapter through the fetch-parse-persist
// cycle. Situation sources run it continuously via Run; weather sources run
// bounded sweeps via RunOnce.
type AcquisitionLoop struct {
	adapter integration.SourceAdapter
	fetcher Fetcher
	repo    repository.Repository
	cfg     LoopConfig
	clock   clockwork.Clock
	metrics *observability.Metrics
	log     *slog.Logger
}

// NewAcquisitionLoop creates a loop for one source.
func NewAcquisitionLoop(
	adapter integration.SourceAdapter,
	fetcher Fetcher,
	repo repository.Repository,
	cfg LoopConfig,
	metrics *observability.Metrics,
	log *slog.Logger,
) *AcquisitionLoop {
	return &AcquisitionLoop{
		adapter: adapter,
		fetcher: fetcher,
		repo:    repo,
		cfg:     cfg.withDefaults(),
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		log:     log.With("source", adapter.Name()),
	}
}

// WithClock swaps the loop's clock. Tests only.
func (l *AcquisitionLoop) WithClock(clock clockwork.Clock) *AcquisitionLoop {
	l.clock = clock
	return l
}

// Run executes runs separated by SleepInterval until ctx is canceled.
func (l *AcquisitionLoop) Run(ctx context.Context) error {
	for {
		summary, err := l.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.log.Error("run failed", "error", err)
		} else {
			l.log.Info("run finished",
				"fetched", summary.Fetched, "parsed", summary.Parsed,
				"persisted", summary.Persisted, "skipped", summary.Skipped,
				"errored", summary.Errored)
		}

		l.log.Info("sleeping", "interval", l.cfg.SleepInterval)
		if err := l.sleep(ctx, l.cfg.SleepInterval); err != nil {
			return err
		}
	}
}

// RunOnce executes one bounded run: resolve the cursor, plan the units of
// work, and process them in order. A storage failure aborts the run; any
// other per-unit failure skips that unit and moves on.
func (l *AcquisitionLoop) RunOnce(ctx context.Context) (RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.MaxRunDuration)
	defer cancel()

	summary := RunSummary{Source: l.adapter.Name()}
	started := l.clock.Now()
	l.metrics.RunActive.WithLabelValues(summary.Source).Set(1)
	defer func() {
		l.metrics.RunActive.WithLabelValues(summary.Source).Set(0)
		l.metrics.RunDuration.WithLabelValues(summary.Source).
			Observe(l.clock.Since(started).Seconds())
	}()

	units, err := l.planUnits(ctx)
	if err != nil {
		return summary, err
	}
	l.log.Info("run planned", "units", len(units))

	for i, unit := range units {
		if i > 0 {
			if err := l.sleep(ctx, l.cfg.PaceDelay); err != nil {
				return summary, err
			}
		}
		if err := l.processUnit(ctx, unit, &summary); err != nil {
			if errors.Is(err, repository.ErrUnavailable) || errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			summary.Errored++
			l.log.Error("unit of work failed, moving on", "error", err,
				"date", unit.Date.Format("2006-01-02"))
		}
	}
	return summary, nil
}

// planUnits builds the ordered unit-of-work list for one run.
func (l *AcquisitionLoop) planUnits(ctx context.Context) ([]integration.WorkUnit, error) {
	switch l.adapter.Granularity() {
	case integration.GranularityEntity:
		return l.planEntityUnits(ctx)
	default:
		return l.planDateUnits(ctx)
	}
}

// planDateUnits resolves the cursor and expands it into per-day or per-month
// units up to the current day.
func (l *AcquisitionLoop) planDateUnits(ctx context.Context) ([]integration.WorkUnit, error) {
	slugs, exclude := reservoirScope(l.adapter)
	reservoirs, err := l.repo.ReservoirsByScope(ctx, slugs, exclude)
	if err != nil {
		return nil, fmt.Errorf("load reservoirs: %w", err)
	}
	if len(reservoirs) == 0 {
		l.log.Warn("no reservoirs in scope, nothing to do")
		return nil, nil
	}

	cursor, err := l.resolveCursor(ctx, slugs, exclude)
	if err != nil {
		return nil, err
	}
	l.metrics.CursorDate.WithLabelValues(l.adapter.Name()).Set(float64(cursor.Unix()))
	l.log.Info("cursor resolved", "cursor", cursor.Format("2006-01-02"))

	today := truncateDay(l.clock.Now().UTC())
	var units []integration.WorkUnit
	for date := cursor; !date.After(today); {
		units = append(units, integration.WorkUnit{Date: date, Reservoirs: reservoirs})
		if l.adapter.Granularity() == integration.GranularityMonth {
			date = time.Date(date.Year(), date.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		} else {
			date = date.AddDate(0, 0, 1)
		}
	}
	return units, nil
}

// resolveCursor computes the next date to fetch: the day after the slowest
// reservoir's last persisted date, pulled back by the look-back window and
// floored at the source's earliest known date.
func (l *AcquisitionLoop) resolveCursor(ctx context.Context, slugs []string, exclude bool) (time.Time, error) {
	earliest := l.adapter.EarliestKnownDate()

	last, ok, err := l.repo.LastSituationDate(ctx, slugs, exclude)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve cursor: %w", err)
	}
	if !ok {
		return earliest, nil
	}

	cursor := last.AddDate(0, 0, 1-l.cfg.LookBackDays)
	if cursor.Before(earliest) {
		cursor = earliest
	}
	return cursor, nil
}

// planEntityUnits sweeps the geo objects the source can serve, one unit each.
func (l *AcquisitionLoop) planEntityUnits(ctx context.Context) ([]integration.WorkUnit, error) {
	scoped, ok := l.adapter.(integration.GeoObjectScoped)
	if !ok {
		return nil, fmt.Errorf("%s: entity-swept source without a geo object scope", l.adapter.Name())
	}
	geoObjects, err := l.repo.GeoObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geo objects: %w", err)
	}

	var units []integration.WorkUnit
	for _, g := range geoObjects {
		if !scoped.WantsGeoObject(g) {
			continue
		}
		since, _, err := l.repo.LastWeatherDate(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("load weather cursor: %w", err)
		}
		geo := g
		units = append(units, integration.WorkUnit{GeoObject: &geo, Since: since})
	}
	return units, nil
}

// processUnit runs one fetch-parse-persist cycle and folds the outcome into
// the summary.
func (l *AcquisitionLoop) processUnit(ctx context.Context, unit integration.WorkUnit, summary *RunSummary) error {
	req, err := l.adapter.BuildRequest(unit)
	if err != nil {
		return fmt.Errorf("build request: %v", err)
	}

	body, err := l.fetchWithRetry(ctx, req)
	if err != nil {
		l.metrics.FetchesTotal.WithLabelValues(summary.Source, "error").Inc()
		return err
	}
	l.metrics.FetchesTotal.WithLabelValues(summary.Source, "ok").Inc()
	summary.Fetched++

	records, err := l.adapter.Parse(body, unit)
	var structErr *integration.ParseStructureError
	if errors.As(err, &structErr) {
		// The document shape changed or the date is simply not published.
		// The unit is consumed either way; later units are unaffected.
		l.log.Warn("unrecognized document, skipping unit", "reason", structErr.Reason)
		summary.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse: %v", err)
	}
	summary.Parsed += len(records)

	for _, rec := range records {
		created, err := l.repo.Upsert(ctx, rec)
		if err != nil {
			if errors.Is(err, repository.ErrUnavailable) {
				return err
			}
			l.metrics.RecordsTotal.WithLabelValues(summary.Source, "error").Inc()
			l.log.Error("persist failed, skipping record", "error", err,
				"date", rec.Key().Date.Format(time.RFC3339))
			summary.Errored++
			continue
		}
		if created {
			l.metrics.RecordsTotal.WithLabelValues(summary.Source, "created").Inc()
			summary.Persisted++
		} else {
			l.metrics.RecordsTotal.WithLabelValues(summary.Source, "duplicate").Inc()
		}
	}
	return nil
}

// fetchWithRetry re-fetches after transient failures with doubling backoff.
// Permanent failures and exhausted retries surface to the caller, which
// skips the unit.
func (l *AcquisitionLoop) fetchWithRetry(ctx context.Context, req integration.Request) ([]byte, error) {
	backoff := l.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		body, err := l.fetcher.Fetch(ctx, req)
		if err == nil {
			return body, nil
		}

		var transient *integration.TransientFetchError
		if !errors.As(err, &transient) || attempt >= l.cfg.MaxRetries {
			return nil, err
		}

		l.log.Warn("transient fetch failure, retrying",
			"attempt", attempt+1, "backoff", backoff, "error", err)
		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (l *AcquisitionLoop) sleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func reservoirScope(adapter integration.SourceAdapter) ([]string, bool) {
	if scoped, ok := adapter.(integration.ReservoirScoped); ok {
		return scoped.ReservoirScope()
	}
	return nil, false
}
