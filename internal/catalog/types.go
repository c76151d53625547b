package catalog

import (
	"fmt"

	"github.com/openbarter/tradecore/internal/domain"
)

// apiProduct represents a product as returned by the internal catalog API.
type apiProduct struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Title        string `json:"title"`
	ImageURL     string `json:"image_url"`
	Price        string `json:"price"`
	Active       bool   `json:"active"`
	TradeEnabled bool   `json:"trade_enabled"`
}

// ToDomain converts an apiProduct to a domain.CatalogProduct, parsing the
// decimal price string.
func (p *apiProduct) ToDomain() (domain.CatalogProduct, error) {
	price, err := domain.ParseDecimal(p.Price)
	if err != nil {
		return domain.CatalogProduct{}, fmt.Errorf("catalog: product %s price %q: %w", p.ID, p.Price, err)
	}
	return domain.CatalogProduct{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		Title:        p.Title,
		ImageURL:     p.ImageURL,
		Price:        price,
		Active:       p.Active,
		TradeEnabled: p.TradeEnabled,
	}, nil
}

// apiError is the error envelope returned by the catalog API on failures.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
