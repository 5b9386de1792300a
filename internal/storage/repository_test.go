package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"purchase-ingest/internal/purchase"
)

// openTestStore connects to PURCHASES_TEST_DSN, a disposable database the tests may truncate.
func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()

	dsn := os.Getenv("PURCHASES_TEST_DSN")
	if dsn == "" {
		t.Skip("PURCHASES_TEST_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("连接测试库失败: %v", err)
	}
	store := NewStore(pool, opts)
	t.Cleanup(func() { _ = store.Close() })

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS purchases`); err != nil {
		t.Fatalf("清理 purchases 失败: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return store
}

func sampleRecord() purchase.Record {
	return purchase.Record{
		ClientID:            4021,
		Gender:              "F",
		PurchaseDate:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		SecondsFromMidnight: 45296,
		ProductID:           88,
		Quantity:            decimal.RequireFromString("2.5"),
		PricePerItem:        decimal.RequireFromString("199.99"),
		DiscountPerItem:     decimal.RequireFromString("10.00"),
		TotalPrice:          decimal.RequireFromString("474.975"),
	}
}

func TestInsertSQLBindsNineColumnsInOrder(t *testing.T) {
	if !strings.Contains(insertPurchaseSQL, strings.Join(purchase.Columns, ", ")) {
		t.Fatalf("插入语句列顺序错误: %s", insertPurchaseSQL)
	}
	if !strings.Contains(insertPurchaseSQL, "$9)") || strings.Contains(insertPurchaseSQL, "$10") {
		t.Fatalf("插入语句应恰好绑定 9 个参数: %s", insertPurchaseSQL)
	}
	if !strings.Contains(insertPurchaseSQL, "ON CONFLICT DO NOTHING") {
		t.Fatalf("插入语句应包含冲突跳过子句")
	}
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	var s *Store
	if err := s.InsertPurchase(context.Background(), sampleRecord()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil store 应返回 ErrNotConfigured, 实际 %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil store Close 不应报错: %v", err)
	}
	var schemaErr *SchemaError
	if err := s.EnsureSchema(context.Background()); !errors.As(err, &schemaErr) {
		t.Fatalf("nil store 建表应返回 SchemaError, 实际 %v", err)
	}
}

func TestPgCode(t *testing.T) {
	if PgCode(errors.New("plain")) != "" {
		t.Fatal("非 Postgres 错误应返回空 code")
	}
	wrapped := &WriteError{Index: 3, Err: &pgconn.PgError{Code: "23505"}}
	if PgCode(wrapped) != "23505" {
		t.Fatalf("应能穿透 WriteError 取得 SQLSTATE")
	}
	if !strings.Contains(wrapped.Error(), "record 3") {
		t.Fatalf("WriteError 应包含记录序号: %s", wrapped.Error())
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	store := openTestStore(t, Options{})
	ctx := context.Background()

	if err := store.InsertPurchase(ctx, sampleRecord()); err != nil {
		t.Fatalf("插入失败: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("第二次建表不应报错: %v", err)
	}
	count, err := store.CountPurchases(ctx)
	if err != nil || count != 1 {
		t.Fatalf("重复建表不应影响数据, count=%d err=%v", count, err)
	}
}

func TestInsertRoundTrip(t *testing.T) {
	store := openTestStore(t, Options{})
	ctx := context.Background()
	want := sampleRecord()

	if err := store.InsertPurchase(ctx, want); err != nil {
		t.Fatalf("插入失败: %v", err)
	}

	got, err := store.ListPurchasesBetween(ctx, want.PurchaseDate, want.PurchaseDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("期望 1 条, 实际 %d", len(got))
	}

	rec := got[0]
	if rec.ID == 0 {
		t.Fatal("应分配代理主键")
	}
	if rec.ClientID != want.ClientID || rec.Gender != want.Gender || rec.ProductID != want.ProductID ||
		rec.SecondsFromMidnight != want.SecondsFromMidnight || !rec.PurchaseDate.Equal(want.PurchaseDate) {
		t.Fatalf("字段回读不一致: %+v", rec.Record)
	}
	if !rec.Quantity.Equal(want.Quantity) || !rec.PricePerItem.Equal(want.PricePerItem) ||
		!rec.DiscountPerItem.Equal(want.DiscountPerItem) || !rec.TotalPrice.Equal(want.TotalPrice) {
		t.Fatalf("金额回读不一致: %+v", rec.Record)
	}
}

func TestRerunDuplicatesWithoutNaturalKey(t *testing.T) {
	store := openTestStore(t, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.InsertPurchase(ctx, sampleRecord()); err != nil {
			t.Fatalf("插入失败: %v", err)
		}
	}
	count, err := store.CountPurchasesOn(ctx, sampleRecord().PurchaseDate)
	if err != nil {
		t.Fatalf("计数失败: %v", err)
	}
	if count != 2 {
		t.Fatalf("无唯一约束时重复导入会产生重复行, 期望 2, 实际 %d", count)
	}
}

func TestNaturalKeySkipsDuplicates(t *testing.T) {
	store := openTestStore(t, Options{UniqueNaturalKey: true})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.InsertPurchase(ctx, sampleRecord()); err != nil {
			t.Fatalf("冲突应被跳过而非报错: %v", err)
		}
	}
	count, err := store.CountPurchases(ctx)
	if err != nil || count != 1 {
		t.Fatalf("有唯一约束时重复导入不应增加行数, count=%d err=%v", count, err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t, Options{})
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(w PurchaseWriter) error {
		if err := w.InsertPurchase(ctx, sampleRecord()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("应返回回调错误, 实际 %v", err)
	}

	count, err := store.CountPurchases(ctx)
	if err != nil || count != 0 {
		t.Fatalf("事务回滚后不应有数据, count=%d err=%v", count, err)
	}

	if err := store.InTx(ctx, func(w PurchaseWriter) error {
		return w.InsertPurchase(ctx, sampleRecord())
	}); err != nil {
		t.Fatalf("事务提交失败: %v", err)
	}
	if count, _ := store.CountPurchases(ctx); count != 1 {
		t.Fatalf("提交后应有 1 条数据, 实际 %d", count)
	}
}

func TestDailyTotals(t *testing.T) {
	store := openTestStore(t, Options{})
	ctx := context.Background()

	rec := sampleRecord()
	other := sampleRecord()
	other.PurchaseDate = rec.PurchaseDate.AddDate(0, 0, -1)
	other.TotalPrice = decimal.NewFromInt(5)

	for _, r := range []purchase.Record{rec, rec, other} {
		if err := store.InsertPurchase(ctx, r); err != nil {
			t.Fatalf("插入失败: %v", err)
		}
	}

	totals, err := store.DailyTotals(ctx, other.PurchaseDate, rec.PurchaseDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("汇总失败: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("期望 2 天, 实际 %d", len(totals))
	}
	if totals[1].Purchases != 2 || !totals[1].Revenue.Equal(rec.TotalPrice.Mul(decimal.NewFromInt(2))) {
		t.Fatalf("汇总结果错误: %+v", totals[1])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := openTestStore(t, Options{})
	if err := store.Close(); err != nil {
		t.Fatalf("第一次关闭失败: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("第二次关闭不应报错: %v", err)
	}
}
