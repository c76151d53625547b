package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADECORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS_ENABLED")

	// ── Catalog ──
	setStr(&cfg.Catalog.BaseURL, "TRADECORE_CATALOG_BASE_URL")
	setStr(&cfg.Catalog.APIKey, "TRADECORE_CATALOG_API_KEY")
	setDuration(&cfg.Catalog.CacheTTL, "TRADECORE_CATALOG_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECORE_S3_FORCE_PATH_STYLE")

	// ── Trade ──
	setDuration(&cfg.Trade.ResponseWindow, "TRADECORE_TRADE_RESPONSE_WINDOW")
	setDuration(&cfg.Trade.PaymentWindow, "TRADECORE_TRADE_PAYMENT_WINDOW")
	setDuration(&cfg.Trade.ShippingWindow, "TRADECORE_TRADE_SHIPPING_WINDOW")
	setInt(&cfg.Trade.MaxItemsPerSide, "TRADECORE_TRADE_MAX_ITEMS_PER_SIDE")
	setInt(&cfg.Trade.CreateLimitPerHour, "TRADECORE_TRADE_CREATE_LIMIT_PER_HOUR")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.ScanInterval, "TRADECORE_SCHEDULER_SCAN_INTERVAL")
	setInt(&cfg.Scheduler.ScanBatchSize, "TRADECORE_SCHEDULER_SCAN_BATCH_SIZE")
	setInt(&cfg.Scheduler.Workers, "TRADECORE_SCHEDULER_WORKERS")
	setStr(&cfg.Scheduler.ExpiryPolicy, "TRADECORE_SCHEDULER_EXPIRY_POLICY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADECORE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADECORE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TRADECORE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADECORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADECORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "TRADECORE_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "TRADECORE_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "TRADECORE_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "TRADECORE_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Statuses, "TRADECORE_NOTIFY_STATUSES")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Env-var helpers. A variable that is unset, empty, or unparsable leaves the
// target untouched.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setParsed[T any](dst *T, key string, parse func(string) (T, error)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := parse(v)
	if err != nil {
		return
	}
	*dst = parsed
}

func setInt(dst *int, key string)   { setParsed(dst, key, strconv.Atoi) }
func setBool(dst *bool, key string) { setParsed(dst, key, strconv.ParseBool) }

func setDuration(dst *duration, key string) {
	setParsed(dst, key, func(v string) (duration, error) {
		d, err := time.ParseDuration(v)
		return duration{Duration: d}, err
	})
}

func setStringSlice(dst *[]string, key string) {
	setParsed(dst, key, splitCSV)
}

// splitCSV splits a comma-separated value, trimming whitespace and dropping
// empty elements. An all-empty result is an error so a stray "," cannot wipe
// a configured list.
func splitCSV(v string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no elements")
	}
	return out, nil
}
