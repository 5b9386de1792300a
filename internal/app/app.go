package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"purchase-ingest/internal/alerting"
	"purchase-ingest/internal/config"
	"purchase-ingest/internal/fetcher"
	"purchase-ingest/internal/service"
	"purchase-ingest/internal/storage"
	"purchase-ingest/internal/window"
)

// errNoDatabase is returned by commands that need the store when no DSN is configured.
var errNoDatabase = errors.New("database not configured; set database.dsn or database.host/name")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.DayFetcher {
	return fetcher.NewPurchases(fetcher.PurchasesOptions{
		URL:          a.Config.API.URL,
		Accept:       a.Config.API.Accept,
		Timeout:      a.Config.API.RequestTimeout,
		UserAgent:    a.Config.API.UserAgent,
		RateLimitRPS: a.Config.API.RateLimitRPS,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.ConnString() == "" {
		return nil, errNoDatabase
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	return storage.NewStore(pool, storage.Options{UniqueNaturalKey: a.Config.Storage.UniqueNaturalKey}), nil
}

func (a *App) serviceOptions(onDate func(service.DateOutcome)) service.Options {
	return service.Options{
		FetchRetries:    a.Config.Ingest.FetchRetries,
		RetryBackoff:    a.Config.Ingest.RetryBackoff,
		RetryBackoffMax: a.Config.Ingest.RetryBackoffMax,
		AtomicDates:     a.Config.Ingest.AtomicDates,
		LockKey:         a.Config.Ingest.AdvisoryLockKey,
		OnDate:          onDate,
	}
}

// ingest opens a fresh store, hands it to a new service, and runs win to completion.
// The service closes the store; failed runs are reported through the notifier.
func (a *App) ingest(ctx context.Context, win *window.Window, onDate func(service.DateOutcome)) (service.Summary, error) {
	if err := a.Config.ValidateAPI(); err != nil {
		return service.Summary{Mode: win.Mode()}, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return service.Summary{Mode: win.Mode()}, err
	}

	svc := service.New(a.newFetcher(), store, a.serviceOptions(onDate), a.Logger)
	summary, runErr := svc.Run(ctx, win)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, service.ErrLocked) {
		a.notifyFailure(ctx, summary, runErr)
	}
	return summary, runErr
}

func (a *App) notifyFailure(ctx context.Context, summary service.Summary, runErr error) {
	notifier := a.newNotifier()
	if notifier == nil {
		return
	}

	note := alerting.Notification{
		RunID:      summary.RunID,
		Mode:       string(summary.Mode),
		StopReason: string(summary.StopReason),
		FirstDate:  summary.FirstDate,
		LastDate:   summary.LastDate,
		Dates:      summary.Dates,
		Failed:     summary.FailedDates,
		Persisted:  summary.Persisted,
		Err:        runErr,
		Finished:   time.Now().UTC(),
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := notifier.Notify(notifyCtx, note); err != nil {
		a.Logger.Error().Err(err).Str("run_id", summary.RunID).Msg("告警发送失败")
	}
}

// DailyOptions configure a single-date run.
type DailyOptions struct {
	// Date overrides the default of yesterday (UTC).
	Date *time.Time
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	// Start overrides the default of today (UTC); the walk proceeds backwards from it.
	Start    *time.Time
	Progress bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Date  *time.Time
}

// ExportOptions hold parameters for exporting persisted purchases.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxDays int
}

// PruneOptions configure log pruning.
type PruneOptions struct {
	Dir           string
	RetentionDays int
}
