package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification 封装一次失败运行的告警上下文。
type Notification struct {
	RunID      string
	Mode       string
	StopReason string
	FirstDate  time.Time
	LastDate   time.Time
	Dates      int
	Failed     int
	Persisted  int
	Err        error
	Finished   time.Time
	Additional string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Str("mode", note.Mode).
		Str("stop_reason", note.StopReason).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Purchase Ingest Failure]\n")
	builder.WriteString(fmt.Sprintf("Run: %s (%s)\n", note.RunID, note.Mode))
	builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.Finished.UTC().Format(time.RFC3339)))
	if !note.FirstDate.IsZero() {
		builder.WriteString(fmt.Sprintf("Dates: %s .. %s\n", note.FirstDate.Format(dateLayout), note.LastDate.Format(dateLayout)))
	}
	builder.WriteString(fmt.Sprintf("Processed: %d dates, %d failed, %d records persisted\n", note.Dates, note.Failed, note.Persisted))
	builder.WriteString(fmt.Sprintf("Stop: %s\n", note.StopReason))
	if note.Err != nil {
		builder.WriteString(fmt.Sprintf("Error: %s\n", truncate(note.Err.Error(), maxErrorLen)))
	}
	if note.Additional != "" {
		builder.WriteString(note.Additional)
	}
	return builder.String()
}

const (
	dateLayout  = "2006-01-02"
	maxErrorLen = 512
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

var _ Notifier = (*TelegramNotifier)(nil)
