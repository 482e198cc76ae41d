package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// FetchTimeout bounds the one-time catalog fetch at session start.
const FetchTimeout = 15 * time.Second

// Product is one store item. Only the fields the assistant speaks about are
// interpreted; everything else passes through to the UI untouched.
type Product struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	Image       string  `json:"image,omitempty"`
}

// Client fetches the full product list from the catalog source.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

// NewClient returns a catalog client with the standard fetch timeout.
func NewClient(url string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: FetchTimeout},
		URL:        url,
	}
}

// Fetch retrieves the complete product list.
func (c *Client) Fetch(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog fetch: status=%d", resp.StatusCode)
	}
	var products []Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("catalog fetch: decode: %w", err)
	}
	return products, nil
}

// Catalog holds the session-lifetime product list. It serves as the fallback
// lookup table when the user names a product to add to the cart, and as the
// default display set when no filters are active.
type Catalog struct {
	mu       sync.RWMutex
	products []Product
}

// New wraps an already-fetched product list.
func New(products []Product) *Catalog {
	return &Catalog{products: products}
}

// Replace swaps the product list wholesale.
func (c *Catalog) Replace(products []Product) {
	c.mu.Lock()
	c.products = products
	c.mu.Unlock()
}

// Products returns a copy of the full list.
func (c *Catalog) Products() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Len reports the number of products.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// FindByKeyword returns the first product whose title or description contains
// the keyword, case-insensitively.
func (c *Catalog) FindByKeyword(keyword string) (Product, bool) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return Product{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Title), kw) {
			return p, true
		}
	}
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Description), kw) {
			return p, true
		}
	}
	return Product{}, false
}
