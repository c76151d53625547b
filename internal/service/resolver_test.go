package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbarter/tradecore/internal/domain"
)

type fakeSource struct {
	products map[string]domain.CatalogProduct
	err      error
	calls    int
}

func (s *fakeSource) GetProduct(ctx context.Context, id string) (domain.CatalogProduct, error) {
	s.calls++
	if s.err != nil {
		return domain.CatalogProduct{}, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return domain.CatalogProduct{}, domain.ErrNotFound
	}
	return p, nil
}

type fakeCache struct {
	products map[string]domain.CatalogProduct
	sets     int
}

func (c *fakeCache) Set(ctx context.Context, product domain.CatalogProduct) error {
	c.sets++
	c.products[product.ID] = product
	return nil
}

func (c *fakeCache) Get(ctx context.Context, id string) (domain.CatalogProduct, error) {
	p, ok := c.products[id]
	if !ok {
		return domain.CatalogProduct{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *fakeCache) Invalidate(ctx context.Context, id string) error {
	delete(c.products, id)
	return nil
}

func tradableProduct(id, owner string) domain.CatalogProduct {
	return domain.CatalogProduct{
		ID:           id,
		OwnerID:      owner,
		Title:        "vintage lamp",
		ImageURL:     "https://cdn.example.com/" + id + ".jpg",
		Price:        dec("20.12"),
		Active:       true,
		TradeEnabled: true,
	}
}

func newResolver(source *fakeSource, cache *fakeCache) *ItemResolver {
	return NewItemResolver(source, cache, testLogger())
}

func TestResolveFreezesSnapshot(t *testing.T) {
	source := &fakeSource{products: map[string]domain.CatalogProduct{
		"p1": tradableProduct("p1", "alice"),
	}}
	cache := &fakeCache{products: map[string]domain.CatalogProduct{}}
	r := newResolver(source, cache)

	item, err := r.Resolve(context.Background(), domain.ItemRef{ProductID: "p1", Quantity: 2}, "alice", domain.RoleInitiator)
	require.NoError(t, err)
	assert.Equal(t, "p1", item.ProductID)
	assert.Equal(t, domain.RoleInitiator, item.Side)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, "vintage lamp", item.Title)
	assert.True(t, item.ValueAtTrade.Equal(dec("20.12")))

	// The lookup populated the read-through cache.
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, source.calls)
}

func TestResolveUsesCache(t *testing.T) {
	source := &fakeSource{products: map[string]domain.CatalogProduct{}}
	cache := &fakeCache{products: map[string]domain.CatalogProduct{
		"p1": tradableProduct("p1", "alice"),
	}}
	r := newResolver(source, cache)

	_, err := r.Resolve(context.Background(), domain.ItemRef{ProductID: "p1", Quantity: 1}, "alice", domain.RoleReceiver)
	require.NoError(t, err)
	assert.Equal(t, 0, source.calls)
}

func TestResolveIneligible(t *testing.T) {
	inactive := tradableProduct("inactive", "alice")
	inactive.Active = false
	noTrade := tradableProduct("no-trade", "alice")
	noTrade.TradeEnabled = false

	source := &fakeSource{products: map[string]domain.CatalogProduct{
		"p1":       tradableProduct("p1", "alice"),
		"inactive": inactive,
		"no-trade": noTrade,
	}}

	tests := []struct {
		name    string
		ref     domain.ItemRef
		ownerID string
		reason  string
	}{
		{"zero quantity", domain.ItemRef{ProductID: "p1", Quantity: 0}, "alice", ""},
		{"unknown product", domain.ItemRef{ProductID: "ghost", Quantity: 1}, "alice", "unknown product"},
		{"wrong owner", domain.ItemRef{ProductID: "p1", Quantity: 1}, "bob", "owned by another user"},
		{"inactive listing", domain.ItemRef{ProductID: "inactive", Quantity: 1}, "alice", "listing is not active"},
		{"trading disabled", domain.ItemRef{ProductID: "no-trade", Quantity: 1}, "alice", "not enabled for trading"},
	}

	for _, tc := range tests {
		cache := &fakeCache{products: map[string]domain.CatalogProduct{}}
		r := newResolver(source, cache)

		_, err := r.Resolve(context.Background(), tc.ref, tc.ownerID, domain.RoleInitiator)
		require.ErrorIs(t, err, domain.ErrValidation, tc.name)

		if tc.reason != "" {
			var ineligible *domain.IneligibleError
			require.ErrorAs(t, err, &ineligible, tc.name)
			assert.Equal(t, tc.reason, ineligible.Reason, tc.name)
		}
	}
}

func TestResolveCatalogDown(t *testing.T) {
	source := &fakeSource{err: errors.New("dial tcp: connection refused")}
	cache := &fakeCache{products: map[string]domain.CatalogProduct{}}
	r := newResolver(source, cache)

	_, err := r.Resolve(context.Background(), domain.ItemRef{ProductID: "p1", Quantity: 1}, "alice", domain.RoleInitiator)
	require.ErrorIs(t, err, domain.ErrValidation)

	var ineligible *domain.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, "catalog lookup failed", ineligible.Reason)
}

func TestResolveAllAbortsOnFirstFailure(t *testing.T) {
	source := &fakeSource{products: map[string]domain.CatalogProduct{
		"p1": tradableProduct("p1", "alice"),
	}}
	cache := &fakeCache{products: map[string]domain.CatalogProduct{}}
	r := newResolver(source, cache)

	refs := []domain.ItemRef{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	}
	items, err := r.ResolveAll(context.Background(), refs, "alice", domain.RoleInitiator)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Nil(t, items)
}
