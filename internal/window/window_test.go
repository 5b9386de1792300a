package window

import (
	"testing"
	"time"
)

func TestDailyWindowIsYesterdayOnly(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	w, err := ForMode(ModeDaily, now)
	if err != nil {
		t.Fatalf("构建 daily 窗口失败: %v", err)
	}

	date, ok := w.Next()
	if !ok {
		t.Fatal("daily 窗口应至少返回一个日期")
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !date.Equal(want) {
		t.Fatalf("期望 %s, 实际 %s", want, date)
	}
	if _, ok := w.Next(); ok {
		t.Fatal("daily 窗口只应返回一个日期")
	}
	if w.Mode() != ModeDaily {
		t.Fatalf("mode 应为 daily, 实际 %s", w.Mode())
	}
}

func TestBackfillWindowDescendsFromToday(t *testing.T) {
	now := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	w, err := ForMode(ModeBackfill, now)
	if err != nil {
		t.Fatalf("构建 backfill 窗口失败: %v", err)
	}

	want := []string{"2024-01-02", "2024-01-01", "2023-12-31", "2023-12-30"}
	for i, exp := range want {
		date, ok := w.Next()
		if !ok {
			t.Fatalf("第 %d 次 Next 不应结束", i)
		}
		if got := date.Format("2006-01-02"); got != exp {
			t.Fatalf("第 %d 个日期期望 %s, 实际 %s", i, exp, got)
		}
	}
}

func TestDescendingCrossesLeapDay(t *testing.T) {
	w := Descending(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	w.Next()
	date, _ := w.Next()
	if date.Format("2006-01-02") != "2024-02-29" {
		t.Fatalf("闰日处理错误: %s", date)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Backfill "); err != nil || m != ModeBackfill {
		t.Fatalf("应解析 backfill, 实际 %q %v", m, err)
	}
	if _, err := ParseMode("weekly"); err == nil {
		t.Fatal("未知模式应报错")
	}
	if _, err := ForMode(Mode("weekly"), time.Now()); err == nil {
		t.Fatal("ForMode 遇到未知模式应报错")
	}
}

func TestForModeUsesUTCCalendarDay(t *testing.T) {
	// 2024-01-10 01:00 at UTC+14 is still 2024-01-09 in UTC.
	kiritimati := time.FixedZone("UTC+14", 14*3600)
	now := time.Date(2024, 1, 10, 1, 0, 0, 0, kiritimati)

	w, err := ForMode(ModeDaily, now)
	if err != nil {
		t.Fatalf("ForMode 失败: %v", err)
	}
	got, ok := w.Next()
	if !ok || !got.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily 应取 UTC 的昨天 2024-01-08, 实际 %s", got)
	}
}
