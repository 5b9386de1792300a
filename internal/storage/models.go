package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"purchase-ingest/internal/purchase"
)

// StoredPurchase is a persisted purchase with its surrogate key.
type StoredPurchase struct {
	ID int64
	purchase.Record
}

// DailyTotal aggregates one calendar day of persisted purchases.
type DailyTotal struct {
	Date      time.Time
	Purchases int64
	Quantity  decimal.Decimal
	Revenue   decimal.Decimal
}

// SchemaError reports that the purchases relation could not be created. It is fatal to a run.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("ensure schema: %v", e.Err) }

func (e *SchemaError) Unwrap() error { return e.Err }

// WriteError reports a failed insert. Index is the record's 1-based position in its page.
type WriteError struct {
	Index int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("insert record %d: %v", e.Index, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PgCode returns the SQLSTATE carried by err, or "" when err did not come from Postgres.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return ""
	}
	return pgErr.Code
}
