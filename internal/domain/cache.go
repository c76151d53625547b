package domain

import (
	"context"
	"time"
)

// ProductCache keeps short-lived catalog snapshots so resolving a
// multi-item offer does not hit the catalog service once per item. Entries
// expire on their own; products are read-only from this side, so there is
// no invalidation call.
type ProductCache interface {
	Set(ctx context.Context, product CatalogProduct) error
	Get(ctx context.Context, id string) (CatalogProduct, error)
}

// RateLimiter admits or rejects one request against a per-key budget. The
// trade service keys it per creating user; the HTTP layer per client IP.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out expiring distributed locks. Acquire returns the
// release function, or ErrLockHeld when another holder has the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from the durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries trade events: pub/sub for live consumers, an
// append-only capped stream as the durable tail.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
