package cli

import (
	"fmt"
	"time"

	"purchase-ingest/internal/purchase"
)

// parseDateFlag accepts YYYY-MM-DD or RFC3339; empty means unset.
func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := purchase.ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}
