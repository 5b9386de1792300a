// Package service runs the purchase ingestion loop over a date window.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"purchase-ingest/internal/fetcher"
	"purchase-ingest/internal/metrics"
	"purchase-ingest/internal/purchase"
	"purchase-ingest/internal/storage"
	"purchase-ingest/internal/window"
)

var (
	// ErrDatesFailed is returned by a backfill that finished but could not persist some dates.
	ErrDatesFailed = errors.New("one or more dates failed to persist")
	// ErrLocked is returned when another ingester holds the advisory lock.
	ErrLocked = errors.New("another ingestion run holds the advisory lock")
)

// StopReason explains why a run left the processing state.
type StopReason string

const (
	StopWindowDone   StopReason = "window_complete"
	StopExhausted    StopReason = "history_exhausted"
	StopFetchFailed  StopReason = "fetch_failed"
	StopDateFailed   StopReason = "date_failed"
	StopSchemaFailed StopReason = "schema_failed"
	StopLocked       StopReason = "lock_held"
	StopCancelled    StopReason = "cancelled"
)

// Options tune the ingestion loop.
type Options struct {
	FetchRetries    int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	// AtomicDates wraps each date's inserts in one transaction.
	AtomicDates bool
	// LockKey enables a postgres advisory lock for the run when non-zero.
	LockKey int64
	// OnDate, when set, observes every processed date.
	OnDate func(DateOutcome)
}

// DateOutcome is the per-date result, used for logging and progress only.
type DateOutcome struct {
	Date       time.Time
	Fetched    int
	Persisted  int
	Attempts   int
	FetchErr   error
	PersistErr error
}

// Err returns whichever failure ended the date, if any.
func (o DateOutcome) Err() error {
	if o.FetchErr != nil {
		return o.FetchErr
	}
	return o.PersistErr
}

// Kind classifies the outcome with the metrics outcome labels.
func (o DateOutcome) Kind() string {
	var malformed *purchase.MalformedRecordError
	switch {
	case o.FetchErr != nil && errors.As(o.FetchErr, &malformed):
		return metrics.OutcomeMalformed
	case o.FetchErr != nil:
		return metrics.OutcomeFetchErr
	case o.PersistErr != nil:
		return metrics.OutcomeWriteErr
	case o.Fetched == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}

// Summary holds the loop counters of one run.
type Summary struct {
	RunID       string
	Mode        window.Mode
	Dates       int
	FailedDates int
	Fetched     int
	Persisted   int
	FirstDate   time.Time
	LastDate    time.Time
	StopReason  StopReason
	Duration    time.Duration
}

// Service drives fetcher and store over an ingestion window.
type Service struct {
	fetcher fetcher.DayFetcher
	store   storage.PurchaseStore
	locker  storage.AdvisoryLocker
	opts    Options
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs the ingestion service. The service owns store from here on
// and closes it when Run returns.
func New(f fetcher.DayFetcher, store storage.PurchaseStore, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if opts.FetchRetries < 0 {
		opts.FetchRetries = 0
	}

	return &Service{
		fetcher: f,
		store:   store,
		locker:  locker,
		opts:    opts,
		logger:  logger.With().Str("component", "ingest").Logger(),
		sleep:   sleepContext,
	}
}

// Run ensures the schema, walks win date by date, and closes the store exactly
// once on every exit path.
func (s *Service) Run(ctx context.Context, win *window.Window) (summary Summary, err error) {
	started := time.Now()
	summary = Summary{RunID: uuid.NewString(), Mode: win.Mode()}
	logger := s.logger.With().Str("run_id", summary.RunID).Str("mode", string(summary.Mode)).Logger()

	defer func() {
		s.closeStore(logger)
		summary.Duration = time.Since(started)
		s.logSummary(logger, summary, err)
		if err == nil {
			metrics.LastSuccess.WithLabelValues(string(summary.Mode)).SetToCurrentTime()
		}
	}()

	logger.Info().Msg("ingestion run started")

	if err := s.store.EnsureSchema(ctx); err != nil {
		summary.StopReason = StopSchemaFailed
		return summary, err
	}
	logger.Info().Msg("schema ready")

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		summary.StopReason = StopLocked
		return summary, err
	}
	if !proceed {
		summary.StopReason = StopLocked
		return summary, ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	for {
		if ctx.Err() != nil {
			summary.StopReason = StopCancelled
			return summary, ctx.Err()
		}

		date, ok := win.Next()
		if !ok {
			summary.StopReason = StopWindowDone
			break
		}

		outcome := s.processDate(ctx, logger, summary.Mode, date)
		summary.record(outcome)
		if s.opts.OnDate != nil {
			s.opts.OnDate(outcome)
		}

		switch outcome.Kind() {
		case metrics.OutcomeFetchErr:
			if ctx.Err() != nil {
				summary.StopReason = StopCancelled
				return summary, ctx.Err()
			}
			summary.StopReason = StopFetchFailed
			return summary, fmt.Errorf("fetch %s: %w", purchase.FormatDate(date), outcome.FetchErr)
		case metrics.OutcomeMalformed, metrics.OutcomeWriteErr:
			if summary.Mode == window.ModeDaily {
				summary.StopReason = StopDateFailed
				return summary, fmt.Errorf("ingest %s: %w", purchase.FormatDate(date), outcome.Err())
			}
		case metrics.OutcomeEmpty:
			if summary.Mode == window.ModeBackfill {
				summary.StopReason = StopExhausted
				return summary, s.backfillResult(summary)
			}
		}
	}

	return summary, s.backfillResult(summary)
}

func (s *Service) backfillResult(summary Summary) error {
	if summary.FailedDates > 0 {
		return fmt.Errorf("%w: %d of %d dates", ErrDatesFailed, summary.FailedDates, summary.Dates)
	}
	return nil
}

// processDate fetches one date and persists its page. It never touches the
// store's lifecycle.
func (s *Service) processDate(ctx context.Context, logger zerolog.Logger, mode window.Mode, date time.Time) DateOutcome {
	day := purchase.FormatDate(date)
	outcome := DateOutcome{Date: date}

	records, attempts, err := s.fetchWithRetry(ctx, logger, mode, date)
	outcome.Attempts = attempts
	if err != nil {
		outcome.FetchErr = err
		logger.Error().Err(err).Str("date", day).Int("attempts", attempts).Msg("fetch failed")
		metrics.DatesProcessed.WithLabelValues(string(mode), outcome.Kind()).Inc()
		return outcome
	}

	outcome.Fetched = len(records)
	metrics.RecordsFetched.WithLabelValues(string(mode)).Add(float64(len(records)))
	if len(records) == 0 {
		logger.Info().Str("date", day).Msg("no data for date")
		metrics.DatesProcessed.WithLabelValues(string(mode), outcome.Kind()).Inc()
		return outcome
	}
	logger.Info().Str("date", day).Int("fetched", len(records)).Msg("page fetched")

	persisted, err := s.persist(ctx, records)
	outcome.Persisted = persisted
	metrics.RecordsPersisted.WithLabelValues(string(mode)).Add(float64(persisted))
	if err != nil {
		outcome.PersistErr = err
		event := logger.Error().Err(err).Str("date", day).Int("fetched", len(records)).Int("persisted", persisted)
		var writeErr *storage.WriteError
		if errors.As(err, &writeErr) {
			event = event.Int("index", writeErr.Index)
		}
		if code := storage.PgCode(err); code != "" {
			event = event.Str("pg_code", code)
		}
		event.Msg("persist failed; remaining records for date skipped")
	} else {
		logger.Info().Str("date", day).Int("persisted", persisted).Msg("page persisted")
	}

	metrics.DatesProcessed.WithLabelValues(string(mode), outcome.Kind()).Inc()
	return outcome
}

func (s *Service) fetchWithRetry(ctx context.Context, logger zerolog.Logger, mode window.Mode, date time.Time) ([]purchase.Record, int, error) {
	attempts := 0
	for {
		attempts++
		started := time.Now()
		records, err := s.fetcher.FetchDay(ctx, date)
		metrics.FetchDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())

		if err == nil || !fetcher.Retryable(err) || attempts > s.opts.FetchRetries {
			return records, attempts, err
		}

		wait := s.backoff(attempts)
		logger.Warn().Err(err).
			Str("date", purchase.FormatDate(date)).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("transient fetch error; retrying")
		metrics.FetchRetries.WithLabelValues(string(mode)).Inc()

		if err := s.sleep(ctx, wait); err != nil {
			return nil, attempts, err
		}
	}
}

// backoff doubles RetryBackoff per attempt, capped at RetryBackoffMax.
func (s *Service) backoff(attempt int) time.Duration {
	d := s.opts.RetryBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
		if s.opts.RetryBackoffMax > 0 && d >= s.opts.RetryBackoffMax {
			return s.opts.RetryBackoffMax
		}
	}
	if s.opts.RetryBackoffMax > 0 && d > s.opts.RetryBackoffMax {
		return s.opts.RetryBackoffMax
	}
	return d
}

func (s *Service) persist(ctx context.Context, records []purchase.Record) (int, error) {
	if !s.opts.AtomicDates {
		return insertAll(ctx, s.store, records)
	}

	var inserted int
	err := s.store.InTx(ctx, func(w storage.PurchaseWriter) error {
		var insertErr error
		inserted, insertErr = insertAll(ctx, w, records)
		return insertErr
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// insertAll stops at the first failure; later records are not attempted.
func insertAll(ctx context.Context, w storage.PurchaseWriter, records []purchase.Record) (int, error) {
	for i, rec := range records {
		if err := w.InsertPurchase(ctx, rec); err != nil {
			return i, &storage.WriteError{Index: i + 1, Err: err}
		}
	}
	return len(records), nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) closeStore(logger zerolog.Logger) {
	if err := s.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store connection")
		return
	}
	logger.Info().Msg("store connection closed")
}

func (s *Service) logSummary(logger zerolog.Logger, summary Summary, err error) {
	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	if !summary.FirstDate.IsZero() {
		event = event.Str("first_date", purchase.FormatDate(summary.FirstDate)).
			Str("last_date", purchase.FormatDate(summary.LastDate))
	}
	event.Int("dates", summary.Dates).
		Int("failed_dates", summary.FailedDates).
		Int("fetched", summary.Fetched).
		Int("persisted", summary.Persisted).
		Str("stop_reason", string(summary.StopReason)).
		Dur("duration", summary.Duration).
		Msg("ingestion run finished")
}

func (sum *Summary) record(o DateOutcome) {
	sum.Dates++
	if sum.FirstDate.IsZero() {
		sum.FirstDate = o.Date
	}
	sum.LastDate = o.Date
	sum.Fetched += o.Fetched
	sum.Persisted += o.Persisted
	if o.Err() != nil {
		sum.FailedDates++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
