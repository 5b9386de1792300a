package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"purchase-ingest/internal/purchase"
)

// DayFetcher retrieves the full page of purchases recorded on one date.
type DayFetcher interface {
	FetchDay(ctx context.Context, date time.Time) ([]purchase.Record, error)
}

// APIError is a non-2xx answer from the purchases API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("purchases api error (%d)", e.Status)
	}
	return fmt.Sprintf("purchases api error (%d): %s", e.Status, e.Body)
}

// TransportError wraps network, timeout and body-read failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("purchases api transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt: transport failures,
// throttling, and server-side errors. Malformed pages and 4xx answers are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}
