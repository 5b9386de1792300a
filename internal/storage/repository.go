package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"purchase-ingest/internal/purchase"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createPurchasesSQL = `CREATE TABLE IF NOT EXISTS purchases (
        id SERIAL PRIMARY KEY,
        client_id INTEGER,
        gender TEXT,
        purchase_datetime DATE,
        purchase_time_as_seconds_from_midnight INTEGER,
        product_id INTEGER,
        quantity NUMERIC,
        price_per_item NUMERIC,
        discount_per_item NUMERIC,
        total_price NUMERIC
    );`

	createNaturalKeySQL = `CREATE UNIQUE INDEX IF NOT EXISTS purchases_natural_key
    ON purchases (client_id, product_id, purchase_datetime, purchase_time_as_seconds_from_midnight);`

	listRecentPurchasesSQL = `SELECT
        id,
        client_id,
        gender,
        purchase_datetime,
        purchase_time_as_seconds_from_midnight,
        product_id,
        quantity,
        price_per_item,
        discount_per_item,
        total_price
    FROM purchases
    ORDER BY purchase_datetime DESC, purchase_time_as_seconds_from_midnight DESC, id DESC
    LIMIT $1;`

	listPurchasesBetweenSQL = `SELECT
        id,
        client_id,
        gender,
        purchase_datetime,
        purchase_time_as_seconds_from_midnight,
        product_id,
        quantity,
        price_per_item,
        discount_per_item,
        total_price
    FROM purchases
    WHERE purchase_datetime >= $1
      AND purchase_datetime < $2
    ORDER BY purchase_datetime, purchase_time_as_seconds_from_midnight, id;`

	dailyTotalsSQL = `SELECT
        purchase_datetime,
        COUNT(*),
        COALESCE(SUM(quantity), 0),
        COALESCE(SUM(total_price), 0)
    FROM purchases
    WHERE purchase_datetime >= $1
      AND purchase_datetime < $2
    GROUP BY purchase_datetime
    ORDER BY purchase_datetime;`

	countPurchasesSQL       = `SELECT COUNT(*) FROM purchases;`
	countPurchasesOnDateSQL = `SELECT COUNT(*) FROM purchases WHERE purchase_datetime = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var insertPurchaseSQL = buildInsertSQL()

func buildInsertSQL() string {
	placeholders := make([]string, len(purchase.Columns))
	for i := range purchase.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO purchases (%s)
    VALUES (%s)
    ON CONFLICT DO NOTHING;`, strings.Join(purchase.Columns, ", "), strings.Join(placeholders, ","))
}

// PurchaseWriter persists single purchases.
type PurchaseWriter interface {
	InsertPurchase(ctx context.Context, rec purchase.Record) error
}

// PurchaseStore is the gateway the ingestion loop drives.
type PurchaseStore interface {
	PurchaseWriter
	EnsureSchema(ctx context.Context) error
	// InTx runs fn against a writer bound to one transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(PurchaseWriter) error) error
	Close() error
}

// PurchaseReader serves read-back of persisted purchases.
type PurchaseReader interface {
	ListRecentPurchases(ctx context.Context, limit int) ([]StoredPurchase, error)
	ListPurchasesBetween(ctx context.Context, from, to time.Time) ([]StoredPurchase, error)
	DailyTotals(ctx context.Context, from, to time.Time) ([]DailyTotal, error)
	CountPurchases(ctx context.Context) (int64, error)
	CountPurchasesOn(ctx context.Context, date time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Options tune schema creation.
type Options struct {
	UniqueNaturalKey bool
}

// Store is the Postgres-backed purchases gateway.
type Store struct {
	pool      *pgxpool.Pool
	opts      Options
	closeOnce sync.Once
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, opts Options) *Store {
	return &Store{pool: pool, opts: opts}
}

// Close releases the underlying pool. Safe to call more than once and on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.closeOnce.Do(s.pool.Close)
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Execute runs a single statement with positional parameters.
func (s *Store) Execute(ctx context.Context, statement string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, statement, args...); err != nil {
		return err
	}
	return nil
}

// EnsureSchema creates the purchases relation if absent. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.Execute(ctx, createPurchasesSQL); err != nil {
		return &SchemaError{Err: err}
	}
	if s.opts.UniqueNaturalKey {
		if err := s.Execute(ctx, createNaturalKeySQL); err != nil {
			return &SchemaError{Err: err}
		}
	}
	return nil
}

// InsertPurchase inserts one purchase, silently skipping natural-key conflicts when that index exists.
func (s *Store) InsertPurchase(ctx context.Context, rec purchase.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return insertPurchase(ctx, pool, rec)
}

// InTx runs fn inside one transaction and rolls back on error.
func (s *Store) InTx(ctx context.Context, fn func(PurchaseWriter) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(txWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txWriter struct {
	tx pgx.Tx
}

func (w txWriter) InsertPurchase(ctx context.Context, rec purchase.Record) error {
	return insertPurchase(ctx, w.tx, rec)
}

func insertPurchase(ctx context.Context, db execer, rec purchase.Record) error {
	if _, err := db.Exec(ctx, insertPurchaseSQL, rec.Values()...); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListRecentPurchases lists the latest purchases, newest first.
func (s *Store) ListRecentPurchases(ctx context.Context, limit int) ([]StoredPurchase, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPurchasesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent purchases: %w", queryErr)
	}
	return collectPurchases(rows)
}

// ListPurchasesBetween lists purchases dated within [from, to).
func (s *Store) ListPurchasesBetween(ctx context.Context, from, to time.Time) ([]StoredPurchase, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPurchasesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list purchases between: %w", queryErr)
	}
	return collectPurchases(rows)
}

// DailyTotals aggregates purchases per day within [from, to).
func (s *Store) DailyTotals(ctx context.Context, from, to time.Time) ([]DailyTotal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, dailyTotalsSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("daily totals: %w", queryErr)
	}
	defer rows.Close()

	totals := make([]DailyTotal, 0)
	for rows.Next() {
		var (
			total       DailyTotal
			quantityStr string
			revenueStr  string
		)
		if err := rows.Scan(&total.Date, &total.Purchases, &quantityStr, &revenueStr); err != nil {
			return nil, err
		}
		if total.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
			return nil, fmt.Errorf("parse quantity total: %w", err)
		}
		if total.Revenue, err = decimal.NewFromString(revenueStr); err != nil {
			return nil, fmt.Errorf("parse revenue total: %w", err)
		}
		totals = append(totals, total)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return totals, nil
}

// CountPurchases counts stored purchases.
func (s *Store) CountPurchases(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPurchasesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count purchases: %w", scanErr)
	}
	return count, nil
}

// CountPurchasesOn counts stored purchases for one date.
func (s *Store) CountPurchasesOn(ctx context.Context, date time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPurchasesOnDateSQL, date).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count purchases on date: %w", scanErr)
	}
	return count, nil
}

func collectPurchases(rows pgx.Rows) ([]StoredPurchase, error) {
	defer rows.Close()

	purchases := make([]StoredPurchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return purchases, nil
}

func scanPurchase(rows pgx.Rows) (StoredPurchase, error) {
	var (
		p           StoredPurchase
		quantityStr string
		priceStr    string
		discountStr string
		totalStr    string
	)

	if err := rows.Scan(
		&p.ID,
		&p.ClientID,
		&p.Gender,
		&p.PurchaseDate,
		&p.SecondsFromMidnight,
		&p.ProductID,
		&quantityStr,
		&priceStr,
		&discountStr,
		&totalStr,
	); err != nil {
		return StoredPurchase{}, err
	}

	var err error
	if p.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return StoredPurchase{}, fmt.Errorf("parse quantity: %w", err)
	}
	if p.PricePerItem, err = decimal.NewFromString(priceStr); err != nil {
		return StoredPurchase{}, fmt.Errorf("parse price per item: %w", err)
	}
	if p.DiscountPerItem, err = decimal.NewFromString(discountStr); err != nil {
		return StoredPurchase{}, fmt.Errorf("parse discount per item: %w", err)
	}
	if p.TotalPrice, err = decimal.NewFromString(totalStr); err != nil {
		return StoredPurchase{}, fmt.Errorf("parse total price: %w", err)
	}

	return p, nil
}

var (
	_ PurchaseStore  = (*Store)(nil)
	_ PurchaseReader = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
