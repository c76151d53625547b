package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultProductTTL keeps snapshots fresh enough that eligibility flags
// (active, trade-enabled) are rechecked quickly, while still absorbing the
// burst of lookups a multi-item offer produces.
const defaultProductTTL = 30 * time.Second

// ProductCache implements domain.ProductCache as plain JSON values under
// product:{id}, expiring after a short TTL. Products are never written by
// this service, so there is no invalidation path; stale entries simply
// age out.
type ProductCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProductCache creates a ProductCache backed by the given Client. A
// zero or negative ttl falls back to 30 seconds.
func NewProductCache(c *Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	return &ProductCache{rdb: c.raw(), ttl: ttl}
}

func productKey(id string) string {
	return "product:" + id
}

// Set stores a catalog product with the configured TTL.
func (pc *ProductCache) Set(ctx context.Context, product domain.CatalogProduct) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("redis: marshal product %s: %w", product.ID, err)
	}
	if err := pc.rdb.Set(ctx, productKey(product.ID), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set product %s: %w", product.ID, err)
	}
	return nil
}

// Get returns the cached product for id, or domain.ErrNotFound when it is
// absent or expired.
func (pc *ProductCache) Get(ctx context.Context, id string) (domain.CatalogProduct, error) {
	data, err := pc.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CatalogProduct{}, domain.ErrNotFound
		}
		return domain.CatalogProduct{}, fmt.Errorf("redis: get product %s: %w", id, err)
	}

	var product domain.CatalogProduct
	if err := json.Unmarshal(data, &product); err != nil {
		return domain.CatalogProduct{}, fmt.Errorf("redis: decode product %s: %w", id, err)
	}
	return product, nil
}

// Compile-time interface check.
var _ domain.ProductCache = (*ProductCache)(nil)
