// Package config defines the top-level configuration for the trade engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADECORE_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Catalog   CatalogConfig   `toml:"catalog"`
	S3        S3Config        `toml:"s3"`
	Trade     TradeConfig     `toml:"trade"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// CatalogConfig holds the internal product catalog API parameters.
type CatalogConfig struct {
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	CacheTTL duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradeConfig holds the negotiation and fulfillment policy knobs.
type TradeConfig struct {
	ResponseWindow     duration `toml:"response_window"`
	PaymentWindow      duration `toml:"payment_window"`
	ShippingWindow     duration `toml:"shipping_window"`
	MaxItemsPerSide    int      `toml:"max_items_per_side"`
	CreateLimitPerHour int      `toml:"create_limit_per_hour"`
}

// SchedulerConfig holds deadline-sweep parameters.
type SchedulerConfig struct {
	ScanInterval  duration `toml:"scan_interval"`
	ScanBatchSize int      `toml:"scan_batch_size"`
	Workers       int      `toml:"workers"`
	// ExpiryPolicy decides what happens to shipped trades whose shipping
	// deadline elapses: "auto_complete" or "dispute".
	ExpiryPolicy string `toml:"expiry_policy"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	AdminAPIKey        string   `toml:"admin_api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification sink credentials. Statuses filters which
// trade statuses are forwarded; empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Statuses          []string `toml:"statuses"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Catalog: CatalogConfig{
			BaseURL:  "http://localhost:8081",
			CacheTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Trade: TradeConfig{
			ResponseWindow:     duration{72 * time.Hour},
			PaymentWindow:      duration{72 * time.Hour},
			ShippingWindow:     duration{168 * time.Hour},
			MaxItemsPerSide:    20,
			CreateLimitPerHour: 20,
		},
		Scheduler: SchedulerConfig{
			ScanInterval:  duration{time.Minute},
			ScanBatchSize: 100,
			Workers:       4,
			ExpiryPolicy:  "auto_complete",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 180,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Statuses: []string{"accepted", "disputed", "completed", "cancelled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validExpiryPolicies enumerates the accepted values for
// SchedulerConfig.ExpiryPolicy.
var validExpiryPolicies = map[string]bool{
	"auto_complete": true,
	"dispute":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Catalog is required whenever trades can be created, i.e. the API is up.
	needsCatalog := c.Mode == "server" || c.Mode == "full"
	if needsCatalog {
		if c.Catalog.BaseURL == "" {
			errs = append(errs, "catalog: base_url is required for mode "+c.Mode)
		}
		if c.Catalog.CacheTTL.Duration < 0 {
			errs = append(errs, "catalog: cache_ttl must not be negative")
		}
	}

	// S3 settings matter only when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when archive is enabled")
		}
	}

	// Trade windows
	if c.Trade.ResponseWindow.Duration <= 0 {
		errs = append(errs, "trade: response_window must be > 0")
	}
	if c.Trade.PaymentWindow.Duration <= 0 {
		errs = append(errs, "trade: payment_window must be > 0")
	}
	if c.Trade.ShippingWindow.Duration <= 0 {
		errs = append(errs, "trade: shipping_window must be > 0")
	}
	if c.Trade.MaxItemsPerSide < 1 {
		errs = append(errs, "trade: max_items_per_side must be >= 1")
	}
	if c.Trade.CreateLimitPerHour < 1 {
		errs = append(errs, "trade: create_limit_per_hour must be >= 1")
	}

	// Scheduler
	if c.Scheduler.ScanInterval.Duration < time.Second {
		errs = append(errs, "scheduler: scan_interval must be at least 1s")
	}
	if c.Scheduler.ScanBatchSize < 1 {
		errs = append(errs, "scheduler: scan_batch_size must be >= 1")
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler: workers must be >= 1")
	}
	if !validExpiryPolicies[strings.ToLower(c.Scheduler.ExpiryPolicy)] {
		errs = append(errs, fmt.Sprintf("scheduler: unknown expiry_policy %q (valid: auto_complete, dispute)", c.Scheduler.ExpiryPolicy))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must not be negative")
		}
	}

	// Telegram needs both halves.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
