package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"purchase-ingest/internal/logging"
	"purchase-ingest/internal/metrics"
	"purchase-ingest/internal/scheduler"
	"purchase-ingest/internal/window"
)

// Run executes the long-running daily ingester: one daily run per scheduler tick,
// log pruning after each tick, and /metrics when configured.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateAPI(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Offset:       a.Config.Scheduler.Offset,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	group, ctx := errgroup.WithContext(ctx)

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		group.Go(func() error {
			return metrics.Serve(ctx, addr, a.Logger)
		})
	}

	group.Go(func() error {
		return sched.Run(ctx, func(ctx context.Context, at time.Time) error {
			// A tick at D ingests D-1, the last complete day.
			_, err := a.ingest(ctx, window.Single(at.AddDate(0, 0, -1)), nil)
			a.pruneAfterTick(at)
			return err
		})
	})

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Dur("offset", a.Config.Scheduler.Offset).
		Msg("starting daily ingestion service")

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("daily ingestion service stopped")
	return nil
}

func (a *App) pruneAfterTick(now time.Time) {
	dir := a.Config.Logging.Dir
	if dir == "" || a.Config.Logging.RetentionDays <= 0 {
		return
	}
	removed, err := logging.Prune(dir, a.Config.Logging.RetentionDays, now)
	if err != nil {
		a.Logger.Warn().Err(err).Str("dir", dir).Msg("log pruning failed")
		return
	}
	if len(removed) > 0 {
		a.Logger.Info().Strs("removed", removed).Msg("old log files pruned")
	}
}

// PruneLogs deletes dated log files older than the retention window.
func (a *App) PruneLogs(opts PruneOptions) ([]string, error) {
	dir := opts.Dir
	if dir == "" {
		dir = a.Config.Logging.Dir
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = a.Config.Logging.RetentionDays
	}
	if dir == "" {
		return nil, errors.New("no log directory: pass --dir or set logging.dir")
	}
	return logging.Prune(dir, retention, time.Now())
}
