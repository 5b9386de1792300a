package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"purchase-ingest/internal/purchase"
)

const maxErrorBody = 2048

// PurchasesOptions parameterise the purchases API fetcher.
type PurchasesOptions struct {
	URL          string
	Accept       string
	Timeout      time.Duration
	UserAgent    string
	RateLimitRPS float64
}

// Purchases fetches daily pages from the purchases API.
type Purchases struct {
	opts    PurchasesOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewPurchases constructs a purchases fetcher.
func NewPurchases(opts PurchasesOptions, logger zerolog.Logger) *Purchases {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.Accept) == "" {
		opts.Accept = "application/json"
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	return &Purchases{
		opts:    opts,
		logger:  logger.With().Str("component", "purchases_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// FetchDay performs GET {url}?date=YYYY-MM-DD and decodes the JSON array body.
func (p *Purchases) FetchDay(ctx context.Context, date time.Time) ([]purchase.Record, error) {
	if p.opts.URL == "" {
		return nil, errors.New("purchases api url not configured")
	}

	endpoint, err := url.Parse(p.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	query := endpoint.Query()
	query.Set("date", purchase.FormatDate(date))
	endpoint.RawQuery = query.Encode()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", p.opts.Accept)
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	p.logger.Debug().
		Str("date", purchase.FormatDate(date)).
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(started)).
		Msg("purchases api responded")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: trimBody(payload)}
	}

	return purchase.DecodePage(payload)
}

func trimBody(payload []byte) string {
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "…"
	}
	return body
}

var _ DayFetcher = (*Purchases)(nil)
