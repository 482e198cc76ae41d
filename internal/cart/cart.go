package cart

import (
	"fmt"
	"strings"
	"sync"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
)

// WelcomeDiscount is the one-shot first-time-shopper coupon rate.
const WelcomeDiscount = 0.20

// Cart holds the products the shopper has added. All mutation is idempotent
// where the spoken flow requires it: adding a product already in the cart is a
// no-op, and removal takes out every entry matching the keyword.
type Cart struct {
	mu       sync.Mutex
	items    []catalog.Product
	discount float64
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// Add puts a product in the cart. It reports whether the cart changed; a
// product already present (same id) is not duplicated.
func (c *Cart) Add(p catalog.Product) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if it.ID == p.ID {
			return false
		}
	}
	c.items = append(c.items, p)
	return true
}

// RemoveByKeyword removes every item whose title contains the keyword,
// case-insensitively, and returns how many were removed.
func (c *Cart) RemoveByKeyword(keyword string) int {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	removed := 0
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Title), kw) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	c.items = kept
	return removed
}

// Items returns a copy of the cart contents.
func (c *Cart) Items() []catalog.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Product, len(c.items))
	copy(out, c.items)
	return out
}

// Len reports the number of items in the cart.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subtotal is the sum of item prices before any discount.
func (c *Cart) Subtotal() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, it := range c.items {
		sum += it.Price
	}
	return sum
}

// ApplyWelcomeCoupon applies the first-time-shopper discount. It can only be
// applied once; it reports whether it took effect.
func (c *Cart) ApplyWelcomeCoupon() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discount != 0 {
		return false
	}
	c.discount = WelcomeDiscount
	return true
}

// Total is the subtotal with any coupon discount applied.
func (c *Cart) Total() float64 {
	sub := c.Subtotal()
	c.mu.Lock()
	defer c.mu.Unlock()
	return sub * (1 - c.discount)
}

// Summary renders a spoken description of the cart contents. The total
// reflects any applied coupon.
func (c *Cart) Summary() string {
	c.mu.Lock()
	items := make([]catalog.Product, len(c.items))
	copy(items, c.items)
	discount := c.discount
	c.mu.Unlock()

	if len(items) == 0 {
		return "Your cart is empty."
	}
	titles := make([]string, len(items))
	var sum float64
	for i, it := range items {
		titles[i] = it.Title
		sum += it.Price
	}
	return fmt.Sprintf("You have %d item(s) totaling $%.2f: %s.",
		len(items), sum*(1-discount), strings.Join(titles, ", "))
}
