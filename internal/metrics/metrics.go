// Package metrics holds the Prometheus collectors for ingestion runs.
//
// Labels are limited to the run mode (daily/backfill) and a small fixed set of
// outcomes so cardinality stays bounded regardless of how far a backfill walks.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Date outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeFetchErr  = "fetch_error"
	OutcomeMalformed = "malformed"
	OutcomeWriteErr  = "write_error"
)

var (
	// DatesProcessed counts dates by mode and outcome.
	DatesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_ingest_dates_total",
			Help: "Dates processed by the ingestion loop.",
		},
		[]string{"mode", "outcome"},
	)

	// RecordsFetched counts records returned by the purchases API.
	RecordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_ingest_records_fetched_total",
			Help: "Purchase records fetched from the API.",
		},
		[]string{"mode"},
	)

	// RecordsPersisted counts records committed to the store.
	RecordsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_ingest_records_persisted_total",
			Help: "Purchase records persisted to the store.",
		},
		[]string{"mode"},
	)

	// FetchRetries counts retried fetch attempts.
	FetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_ingest_fetch_retries_total",
			Help: "Fetch attempts retried after a transient error.",
		},
		[]string{"mode"},
	)

	// FetchDuration records per-attempt API latency in seconds.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "purchases_ingest_fetch_duration_seconds",
			Help:    "Duration of purchases API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// LastSuccess is the unix time of the last run that finished without error.
	LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "purchases_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion run.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(DatesProcessed, RecordsFetched, RecordsPersisted, FetchRetries, FetchDuration, LastSuccess)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
