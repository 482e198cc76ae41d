package dialogue

import (
	"strings"
	"sync"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
)

// Decision is the classified outcome of an utterance heard while a product
// confirmation is pending.
type Decision int

const (
	// DecisionNone means the utterance matched no decision keyword and must
	// fall through to the general router. The pending product stays pending.
	DecisionNone Decision = iota
	DecisionYes
	DecisionNo
	DecisionCheckout
	DecisionContinue
)

// Confirmer holds the product-confirmation sub-dialogue state. It is either
// idle or awaiting a spoken decision about exactly one presented product; the
// controller gives it first refusal on every finalized utterance.
type Confirmer struct {
	mu      sync.Mutex
	pending *catalog.Product
}

// Present records the product now awaiting a spoken decision, replacing any
// earlier one that was never resolved.
func (c *Confirmer) Present(p catalog.Product) {
	c.mu.Lock()
	c.pending = &p
	c.mu.Unlock()
}

// Pending returns the product awaiting a decision, if any.
func (c *Confirmer) Pending() (catalog.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return catalog.Product{}, false
	}
	return *c.pending, true
}

// Clear returns the confirmer to idle.
func (c *Confirmer) Clear() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Classify maps an utterance to a decision by case-insensitive keyword
// containment. Specific intents are checked before the bare negation so a
// phrase like "no, checkout please" still reaches checkout.
func Classify(text string) Decision {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "yes"):
		return DecisionYes
	case strings.Contains(t, "checkout") || strings.Contains(t, "check out"):
		return DecisionCheckout
	case strings.Contains(t, "continue") || strings.Contains(t, "keep shopping"):
		return DecisionContinue
	case strings.Contains(t, "no"):
		return DecisionNo
	default:
		return DecisionNone
	}
}
