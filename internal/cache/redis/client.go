// Package redis backs the engine's shared-state concerns with Redis: the
// trade event bus, the catalog product cache, the creation rate limiter,
// and the archiver lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dialPingTimeout bounds the connectivity probe in Dial so a dead Redis
// fails startup quickly instead of hanging on the caller's context.
const dialPingTimeout = 5 * time.Second

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis connection pool shared by the bus, cache,
// limiter, and lock implementations in this package.
type Client struct {
	rdb *redis.Client
}

// Dial connects to Redis with the given configuration and verifies the
// connection with a bounded ping before returning.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: dial %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// raw exposes the driver to the sibling implementations in this package.
func (c *Client) raw() *redis.Client {
	return c.rdb
}
