package app

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"purchase-ingest/internal/purchase"
	"purchase-ingest/internal/service"
	"purchase-ingest/internal/window"
)

// Daily ingests a single date, yesterday (UTC) unless overridden.
func (a *App) Daily(ctx context.Context, opts DailyOptions) (service.Summary, error) {
	win, err := window.ForMode(window.ModeDaily, time.Now().UTC())
	if err != nil {
		return service.Summary{}, err
	}
	if opts.Date != nil {
		win = window.Single(*opts.Date)
	}
	return a.ingest(ctx, win, nil)
}

// Backfill walks backwards from today (UTC) or opts.Start until the API returns an empty page.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (service.Summary, error) {
	win, err := window.ForMode(window.ModeBackfill, time.Now().UTC())
	if err != nil {
		return service.Summary{}, err
	}
	if opts.Start != nil {
		win = window.Descending(*opts.Start)
	}

	var onDate func(service.DateOutcome)
	if opts.Progress {
		// The walk length is unknown up front, so the bar runs as a spinner.
		bar := progressbar.Default(-1, "backfill")
		defer func() { _ = bar.Finish() }()
		onDate = func(o service.DateOutcome) {
			bar.Describe(fmt.Sprintf("backfill %s (%d records)", purchase.FormatDate(o.Date), o.Persisted))
			_ = bar.Add(1)
		}
	}

	return a.ingest(ctx, win, onDate)
}
