package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  url: https://api.example.com/purchases
database:
  host: db.internal
  name: shop
  user: loader
  password: "p@ss word"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.API.Accept != "application/json" {
		t.Fatalf("默认 Accept 不正确: %q", cfg.API.Accept)
	}
	if cfg.API.RequestTimeout != 30*time.Second {
		t.Fatalf("默认超时不正确: %s", cfg.API.RequestTimeout)
	}
	if cfg.Ingest.FetchRetries != 2 || !cfg.Ingest.AtomicDates {
		t.Fatalf("默认 ingest 配置不正确: %+v", cfg.Ingest)
	}
	if cfg.Logging.RetentionDays != 3 {
		t.Fatalf("默认日志保留天数应为 3, 实际 %d", cfg.Logging.RetentionDays)
	}

	dsn := cfg.Database.ConnString()
	if !strings.HasPrefix(dsn, "postgres://loader:") || !strings.Contains(dsn, "@db.internal:5432/shop") {
		t.Fatalf("DSN 组装错误: %s", dsn)
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Fatalf("密码应被转义: %s", dsn)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
api:
  url: https://api.example.com/purchases
`)
	t.Setenv("PURCHASES_API_ACCEPT", "application/vnd.shop+json")
	t.Setenv("PURCHASES_DATABASE_DSN", "postgres://u@h/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.API.Accept != "application/vnd.shop+json" {
		t.Fatalf("环境变量应覆盖 Accept, 实际 %q", cfg.API.Accept)
	}
	if cfg.Database.ConnString() != "postgres://u@h/db" {
		t.Fatalf("DSN 应优先使用 database.dsn, 实际 %q", cfg.Database.ConnString())
	}
}

func TestLoadWithoutAPIURL(t *testing.T) {
	path := writeConfig(t, `logging: {level: debug}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("只读命令无需 api.url, 加载不应失败: %v", err)
	}
	if err := cfg.ValidateAPI(); err == nil {
		t.Fatal("缺少 api.url 时 ValidateAPI 应报错")
	}
}

func TestLoadRejectsMalformedAPIURL(t *testing.T) {
	path := writeConfig(t, `api: {url: "not a url"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("非法 api.url 应报错")
	}
}

func TestValidateAdvisoryLockNeedsSpareConnection(t *testing.T) {
	cfg := Config{
		API:       APIConfig{URL: "https://x/y", RequestTimeout: time.Second},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Offset: time.Hour},
		Export:    ExportConfig{MaxDays: 10},
		Database:  DatabaseConfig{MaxOpenConns: 1},
		Ingest:    IngestConfig{AdvisoryLockKey: 42},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("启用 advisory lock 且连接池只有 1 个连接时应报错")
	}

	cfg.Database.MaxOpenConns = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("2 个连接应合法: %v", err)
	}

	cfg.Database.MaxOpenConns = 1
	cfg.Ingest.AdvisoryLockKey = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("关闭 advisory lock 时 1 个连接应合法: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			API:       APIConfig{URL: "https://x/y", RequestTimeout: time.Second},
			Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Offset: time.Hour},
			Export:    ExportConfig{MaxDays: 10},
		}
	}

	cases := map[string]func(*Config){
		"negative retries":  func(c *Config) { c.Ingest.FetchRetries = -1 },
		"zero timeout":      func(c *Config) { c.API.RequestTimeout = 0 },
		"offset too large":  func(c *Config) { c.Scheduler.Offset = 25 * time.Hour },
		"telegram no token": func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
		"negative rps":      func(c *Config) { c.API.RateLimitRPS = -1 },
		"negative conns":    func(c *Config) { c.Database.MaxOpenConns = -1 },
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("基础配置应合法: %v", err)
	}

	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 应校验失败", name)
		}
	}
}

func TestConnStringEmptyWhenUnconfigured(t *testing.T) {
	if got := (DatabaseConfig{Host: "h"}).ConnString(); got != "" {
		t.Fatalf("缺少库名时应返回空串, 实际 %q", got)
	}
}

func TestResolveMaxDays(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDays: 30}}
	if cfg.ResolveMaxDays(0) != 30 || cfg.ResolveMaxDays(5) != 5 {
		t.Fatal("ResolveMaxDays 覆盖逻辑错误")
	}
}
