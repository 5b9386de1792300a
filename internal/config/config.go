package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"purchase-ingest/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	API       APIConfig       `mapstructure:"api"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. DSN wins over the discrete fields.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnString returns the DSN, assembling one from host/name/user/password when needed.
// An empty result means the database is not configured.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Host == "" || d.Name == "" {
		return ""
	}

	host := d.Host
	if d.Port > 0 {
		host = host + ":" + strconv.Itoa(d.Port)
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// APIConfig describes the purchases endpoint.
type APIConfig struct {
	URL            string        `mapstructure:"url"`
	Accept         string        `mapstructure:"accept"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
}

// IngestConfig governs the fetch/persist loop.
type IngestConfig struct {
	FetchRetries    int           `mapstructure:"fetch_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	AtomicDates     bool          `mapstructure:"atomic_dates"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// StorageConfig toggles optional schema features.
type StorageConfig struct {
	UniqueNaturalKey bool `mapstructure:"unique_natural_key"`
}

// SchedulerConfig governs the long-running daily cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Offset       time.Duration `mapstructure:"offset"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig exposes Prometheus metrics when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig routes run-failure notifications.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDays int `mapstructure:"max_days"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PURCHASES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "purchase-ingest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.retention_days", 3)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.max_open_conns", 2)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("api.url", "")
	v.SetDefault("api.accept", "application/json")
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("api.user_agent", "purchase-ingest/1.0")
	v.SetDefault("api.rate_limit_rps", 0.0)

	v.SetDefault("ingest.fetch_retries", 2)
	v.SetDefault("ingest.retry_backoff", "2s")
	v.SetDefault("ingest.retry_backoff_max", "30s")
	v.SetDefault("ingest.atomic_dates", true)
	v.SetDefault("ingest.advisory_lock_key", int64(0x70757263))

	v.SetDefault("storage.unique_natural_key", false)

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.offset", "1h")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_days", 366)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.URL) != "" {
		if err := c.ValidateAPI(); err != nil {
			return err
		}
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be greater than zero")
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps cannot be negative")
	}
	if c.Ingest.FetchRetries < 0 {
		return fmt.Errorf("ingest.fetch_retries cannot be negative")
	}
	if c.Ingest.RetryBackoff < 0 || c.Ingest.RetryBackoffMax < 0 {
		return fmt.Errorf("ingest.retry_backoff values cannot be negative")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns cannot be negative")
	}
	// The advisory lock pins one pooled connection for the whole run.
	if c.Ingest.AdvisoryLockKey != 0 && c.Database.MaxOpenConns == 1 {
		return fmt.Errorf("database.max_open_conns must be at least 2 when ingest.advisory_lock_key is set")
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Offset < 0 || c.Scheduler.Offset >= c.Scheduler.Interval {
		return fmt.Errorf("scheduler.offset must be within [0, scheduler.interval)")
	}
	if c.Export.MaxDays <= 0 {
		return fmt.Errorf("export.max_days must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ValidateAPI checks the purchases endpoint. Only commands that fetch need it.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("api.url must be configured")
	}
	if _, err := url.ParseRequestURI(c.API.URL); err != nil {
		return fmt.Errorf("api.url is not a valid url: %w", err)
	}
	return nil
}

// ResolveMaxDays returns either the CLI override or config default.
func (c *Config) ResolveMaxDays(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDays
}
