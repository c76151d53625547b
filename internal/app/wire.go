package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/openbarter/tradecore/internal/blob/s3"
	"github.com/openbarter/tradecore/internal/cache/redis"
	"github.com/openbarter/tradecore/internal/catalog"
	"github.com/openbarter/tradecore/internal/config"
	"github.com/openbarter/tradecore/internal/domain"
	"github.com/openbarter/tradecore/internal/notify"
	"github.com/openbarter/tradecore/internal/store/postgres"
)

// blobHealthTimeout bounds the startup reachability probe against the
// archive bucket.
const blobHealthTimeout = 10 * time.Second

// Dependencies bundles the concrete implementations behind the domain
// interfaces. Wire builds it; the modes in modes.go consume it.
type Dependencies struct {
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	ProductCache domain.ProductCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Catalog is nil in scheduler mode, which never resolves items.
	Catalog *catalog.Client

	// Blob storage stays nil unless archival is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// HealthChecks maps dependency names to reachability probes for the
	// health endpoint.
	HealthChecks map[string]func(context.Context) error
}

// Wire constructs every dependency the configured mode needs and returns
// a cleanup function that releases them in reverse order. On error the
// partially wired resources are already released.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	w := &wiring{cfg: cfg, logger: logger}

	deps, err := w.build(ctx)
	if err != nil {
		w.close()
		return nil, nil, err
	}
	return deps, w.close, nil
}

// wiring accumulates teardown functions while dependencies come up, so a
// failure part-way through releases everything already opened.
type wiring struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func (w *wiring) onClose(f func()) { w.closers = append(w.closers, f) }

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func (w *wiring) build(ctx context.Context) (*Dependencies, error) {
	deps := &Dependencies{
		HealthChecks: make(map[string]func(context.Context) error),
	}

	if err := w.wirePostgres(ctx, deps); err != nil {
		return nil, err
	}
	if err := w.wireRedis(ctx, deps); err != nil {
		return nil, err
	}
	if needsCatalog(w.cfg.Mode) {
		deps.Catalog = catalog.NewClient(w.cfg.Catalog.BaseURL, w.cfg.Catalog.APIKey)
	}
	if w.cfg.Archive.Enabled {
		if err := w.wireBlob(ctx, deps); err != nil {
			return nil, err
		}
	}
	w.wireNotify(deps)

	return deps, nil
}

// needsCatalog reports whether the mode serves user traffic and thus
// resolves items against the product catalog. The scheduler only touches
// trades that already carry frozen snapshots.
func needsCatalog(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
}

// wirePostgres opens the pool every mode depends on, runs migrations
// when configured, and hangs the trade and audit stores off it.
func (w *wiring) wirePostgres(ctx context.Context, deps *Dependencies) error {
	pg, err := postgres.Dial(ctx, postgres.Config{
		DSN:      w.cfg.Postgres.DSN,
		Host:     w.cfg.Postgres.Host,
		Port:     w.cfg.Postgres.Port,
		Database: w.cfg.Postgres.Database,
		User:     w.cfg.Postgres.User,
		Password: w.cfg.Postgres.Password,
		SSLMode:  w.cfg.Postgres.SSLMode,
		MaxConns: w.cfg.Postgres.PoolMaxConns,
		MinConns: w.cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("wire: postgres: %w", err)
	}
	w.onClose(pg.Close)

	if w.cfg.Postgres.RunMigrations {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pg.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pg.Ping
	return nil
}

// wireRedis connects the cache layer: product cache, rate limiter,
// archival lock, and the pub/sub signal bus.
func (w *wiring) wireRedis(ctx context.Context, deps *Dependencies) error {
	rc, err := redis.Dial(ctx, redis.Config{
		Addr:       w.cfg.Redis.Addr,
		Password:   w.cfg.Redis.Password,
		DB:         w.cfg.Redis.DB,
		PoolSize:   w.cfg.Redis.PoolSize,
		MaxRetries: w.cfg.Redis.MaxRetries,
		TLSEnabled: w.cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fmt.Errorf("wire: redis: %w", err)
	}
	w.onClose(func() { _ = rc.Close() })

	deps.ProductCache = redis.NewProductCache(rc, w.cfg.Catalog.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(rc)
	deps.LockManager = redis.NewLockManager(rc)
	deps.SignalBus = redis.NewBus(rc)
	deps.HealthChecks["redis"] = rc.Ping
	return nil
}

// wireBlob connects S3-compatible storage for cold archival. The bucket
// is probed up front so a misconfigured archive fails the boot instead
// of the first nightly run.
func (w *wiring) wireBlob(ctx context.Context, deps *Dependencies) error {
	client, err := s3blob.Dial(ctx, s3blob.Config{
		Endpoint:       w.cfg.S3.Endpoint,
		Region:         w.cfg.S3.Region,
		Bucket:         w.cfg.S3.Bucket,
		AccessKey:      w.cfg.S3.AccessKey,
		SecretKey:      w.cfg.S3.SecretKey,
		UseSSL:         w.cfg.S3.UseSSL,
		ForcePathStyle: w.cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("wire: s3: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, blobHealthTimeout)
	defer cancel()
	if err := client.Health(hctx); err != nil {
		return fmt.Errorf("wire: s3: %w", err)
	}

	deps.BlobWriter = s3blob.NewWriter(client)
	deps.BlobReader = s3blob.NewReader(client)
	deps.Archiver = s3blob.NewExporter(deps.BlobWriter, deps.TradeStore, deps.AuditStore)
	return nil
}

// wireNotify assembles the configured senders. The notifier itself is
// always built; modes skip running it when no sender is configured.
func (w *wiring) wireNotify(deps *Dependencies) {
	n := w.cfg.Notify

	var senders []notify.Sender
	if n.TelegramToken != "" && n.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(n.TelegramToken, n.TelegramChatID))
	}
	if n.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(n.DiscordWebhookURL))
	}
	if n.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(n.WebhookURL, n.WebhookSecret))
	}

	deps.Notifier = notify.NewNotifier(deps.SignalBus, senders, n.Statuses, w.logger)
}
