package domain

// CatalogProduct is the catalog service's view of a product, as consumed by
// the item resolver. It is never persisted here; eligible products are
// frozen into TradeItem snapshots instead.
type CatalogProduct struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	Title        string  `json:"title"`
	ImageURL     string  `json:"image_url"`
	Price        Decimal `json:"price"`
	Active       bool    `json:"active"`
	TradeEnabled bool    `json:"trade_enabled"`
}
