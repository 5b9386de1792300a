package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := testNotification()

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "run-1") || !strings.Contains(received["text"], "2024-01-10 .. 2024-01-07") {
		t.Fatalf("text 缺少运行信息: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("bad", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("401 应报错")
	}
}

func TestRenderMessageTruncatesError(t *testing.T) {
	note := testNotification()
	note.Err = errors.New(strings.Repeat("x", 2000))
	msg := renderMessage(note)
	if strings.Count(msg, "x") != maxErrorLen {
		t.Fatalf("错误信息应截断到 %d 字符", maxErrorLen)
	}
}

func testNotification() Notification {
	return Notification{
		RunID:      "run-1",
		Mode:       "backfill",
		StopReason: "fetch_failed",
		FirstDate:  time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		LastDate:   time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
		Dates:      4,
		Failed:     1,
		Persisted:  30,
		Err:        errors.New("purchases api transport: connection reset"),
		Finished:   time.Now(),
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
