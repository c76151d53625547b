// Package postgres persists trades and the audit log on PostgreSQL via
// pgx connection pools. Schema migrations are embedded in the binary and
// applied at startup under an advisory lock, so server and scheduler
// processes can share one database without racing each other.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID keys the advisory lock guarding schema migrations.
// Arbitrary but stable; every process using this schema must agree on it.
const migrationLockID = 7420114519

// Config holds PostgreSQL connection settings. DSN wins when set,
// otherwise a URL is assembled from the individual fields.
type Config struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (cfg Config) dsn() string {
	if s := strings.TrimSpace(cfg.DSN); s != "" {
		return s
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, ssl)
}

// Client owns the pgx pool shared by the trade and audit stores.
type Client struct {
	pool *pgxpool.Pool
}

// Dial opens a connection pool and verifies it with a ping. Connections
// are recycled hourly so long-lived processes survive failovers behind
// load balancers.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Pool exposes the underlying pool for store constructors.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Ping reports whether the database is reachable.
func (c *Client) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// Close releases all pooled connections.
func (c *Client) Close() { c.pool.Close() }

// Migrate applies embedded migrations in filename order, recording each
// in schema_migrations. The whole run holds an advisory lock so that
// concurrently starting processes apply the schema exactly once.
func (c *Client) Migrate(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire migration conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("postgres: acquire migration lock: %w", err)
	}
	defer func() {
		// Unlock even when ctx was cancelled mid-run; the session lock
		// would otherwise linger until the connection closes.
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("postgres: ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		base := path.Base(name)

		var applied bool
		if err := conn.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)", base,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", base, err)
		}
		if applied {
			continue
		}

		if err := applyMigration(ctx, conn, name, base); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one migration file and its bookkeeping insert in a
// single transaction.
func applyMigration(ctx context.Context, conn *pgxpool.Conn, name, base string) error {
	stmts, err := migrationsFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("postgres: read migration %s: %w", base, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migration %s: %w", base, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(stmts)); err != nil {
		return fmt.Errorf("postgres: apply migration %s: %w", base, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (filename) VALUES ($1)", base,
	); err != nil {
		return fmt.Errorf("postgres: record migration %s: %w", base, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit migration %s: %w", base, err)
	}
	return nil
}
