package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openbarter/tradecore/internal/domain"
)

// ProductSource fetches live catalog products. Implemented by the catalog
// REST client; abstracted so the resolver never depends on a concrete
// transport.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (domain.CatalogProduct, error)
}

// ItemResolver turns product references into frozen trade item snapshots.
// Each resolution checks ownership and trade eligibility against the live
// catalog; the resulting snapshot is never refreshed afterwards.
type ItemResolver struct {
	source ProductSource
	cache  domain.ProductCache
	logger *slog.Logger
}

// NewItemResolver creates an ItemResolver backed by the given catalog source
// and read-through cache.
func NewItemResolver(source ProductSource, cache domain.ProductCache, logger *slog.Logger) *ItemResolver {
	return &ItemResolver{
		source: source,
		cache:  cache,
		logger: logger,
	}
}

// Resolve fetches the referenced product, verifies it may enter a trade on
// behalf of ownerID, and freezes it into a snapshot for the given side.
//
// Every failure is reported against the specific item as a validation-class
// error: unknown products, ownership and trade-eligibility violations, and
// even catalog transport failures, so a flaky catalog never turns into a
// generic internal error.
func (r *ItemResolver) Resolve(ctx context.Context, ref domain.ItemRef, ownerID string, side domain.TradeRole) (domain.TradeItem, error) {
	if ref.Quantity < 1 {
		return domain.TradeItem{}, domain.Validationf("item %s: quantity must be at least 1", ref.ProductID)
	}

	product, err := r.lookup(ctx, ref.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TradeItem{}, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "unknown product"}
		}
		r.logger.WarnContext(ctx, "resolver: catalog lookup failed",
			slog.String("product_id", ref.ProductID),
			slog.String("error", err.Error()),
		)
		return domain.TradeItem{}, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "catalog lookup failed"}
	}

	if product.OwnerID != ownerID {
		return domain.TradeItem{}, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "owned by another user"}
	}
	if !product.Active {
		return domain.TradeItem{}, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "listing is not active"}
	}
	if !product.TradeEnabled {
		return domain.TradeItem{}, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "not enabled for trading"}
	}

	return domain.TradeItem{
		ProductID:    product.ID,
		Side:         side,
		Quantity:     ref.Quantity,
		Title:        product.Title,
		ImageURL:     product.ImageURL,
		ValueAtTrade: product.Price,
	}, nil
}

// ResolveAll resolves every reference for one side of a trade. The first
// failing item aborts the whole resolution so a partially valid offer is
// never frozen.
func (r *ItemResolver) ResolveAll(ctx context.Context, refs []domain.ItemRef, ownerID string, side domain.TradeRole) ([]domain.TradeItem, error) {
	items := make([]domain.TradeItem, 0, len(refs))
	for _, ref := range refs {
		item, err := r.Resolve(ctx, ref, ownerID, side)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// lookup reads the product through the cache, falling back to the catalog
// source on a miss. Cache failures degrade to direct lookups rather than
// failing the resolution.
func (r *ItemResolver) lookup(ctx context.Context, id string) (domain.CatalogProduct, error) {
	cached, err := r.cache.Get(ctx, id)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		r.logger.WarnContext(ctx, "resolver: product cache get failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}

	product, err := r.source.GetProduct(ctx, id)
	if err != nil {
		return domain.CatalogProduct{}, err
	}

	if cacheErr := r.cache.Set(ctx, product); cacheErr != nil {
		r.logger.WarnContext(ctx, "resolver: product cache set failed",
			slog.String("product_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return product, nil
}
