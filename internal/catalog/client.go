// Package catalog provides the REST client for the marketplace's internal
// product catalog service. The trade engine treats the catalog as the source
// of truth for product ownership, listing state, and list price.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// errBodyLimit caps how much of an error response is read for diagnostics.
const errBodyLimit = 4 << 10

// Client is the REST client for the internal catalog API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new catalog REST client.
//
// baseURL is the API root, e.g. "http://catalog.internal:8080/internal".
// apiKey authenticates this service to the catalog.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetProduct returns a single product by its ID.
// It returns domain.ErrNotFound when the catalog has no such product.
func (c *Client) GetProduct(ctx context.Context, id string) (domain.CatalogProduct, error) {
	var envelope struct {
		Product apiProduct `json:"product"`
	}
	if err := c.getJSON(ctx, "/products/"+url.PathEscape(id), &envelope); err != nil {
		return domain.CatalogProduct{}, fmt.Errorf("catalog: get product %s: %w", id, err)
	}
	return envelope.Product.ToDomain()
}

// getJSON issues an authenticated GET against the catalog API and decodes
// the JSON response straight into dst.
func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError turns a non-2xx response into an error, folding in the
// catalog's error envelope when the body carries one. A 404 wraps
// domain.ErrNotFound so callers can tell a missing product from a
// transport failure.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))

	var envelope apiError
	_ = json.Unmarshal(raw, &envelope)
	detail := envelope.Message
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	if envelope.Code != "" {
		detail += " (" + envelope.Code + ")"
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s", detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s", detail)
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
	}
}
