package dialogue

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
)

// transportApology is spoken whenever the remote parser is unreachable or
// times out. The turn is dropped, never retried; the user just speaks again.
const transportApology = "Sorry, I didn't catch that. Try asking for something like women's dresses under fifty dollars or men's jackets."

// maxSpokenResults caps how many matches are read aloud in a filter summary.
const maxSpokenResults = 3

// Parser is the slice of the intent parser the router needs.
type Parser interface {
	Parse(ctx context.Context, text string, dctx parser.ContextPayload) (*parser.Response, error)
}

// Outcome is what one routed turn produced. Reply is always set; the rest is
// populated only for the branch that ran.
type Outcome struct {
	Reply     string
	Context   Context
	Filters   parser.Filters
	Displayed []catalog.Product
	// Present, when non-nil, is the top match to hand to the confirmation
	// sub-dialogue after the reply is spoken.
	Present   *catalog.Product
	Clarify   bool
	CartDirty bool
}

// Router resolves one finalized utterance into a spoken reply plus state
// changes, by way of the remote intent parser.
type Router struct {
	Parser  Parser
	Catalog *catalog.Catalog
	Cart    *cart.Cart
	// AutoPresent selects the first filter match for oral confirmation
	// instead of only summarizing.
	AutoPresent bool
}

// Route sends the utterance and current context to the parser and dispatches
// the interpretation. On transport failure it returns the fixed apology with
// the context untouched.
func (r *Router) Route(ctx context.Context, utterance string, dctx Context) Outcome {
	resp, err := r.Parser.Parse(ctx, utterance, dctx.Payload())
	if err != nil {
		log.Printf("dialogue: parse failed: %v", err)
		return Outcome{Reply: transportApology, Context: dctx}
	}

	next := dctx.Merge(resp)

	if resp.Clarify && resp.Question != "" {
		return Outcome{Reply: resp.Question, Context: next, Clarify: true}
	}

	switch resp.Filters.Act() {
	case parser.ActionAddToCart:
		return r.addToCart(resp, next)
	case parser.ActionRemoveFromCart:
		return r.removeFromCart(resp, next)
	default:
		return r.applyFilter(utterance, resp, next)
	}
}

func (r *Router) addToCart(resp *parser.Response, next Context) Outcome {
	keyword := strings.TrimSpace(resp.Filters.Product)
	p, ok := r.Catalog.FindByKeyword(keyword)
	if !ok && len(resp.Matches) > 0 {
		p, ok = resp.Matches[0], true
	}
	if !ok {
		name := keyword
		if name == "" {
			name = "that item"
		}
		return Outcome{Reply: fmt.Sprintf("Sorry, I couldn't find %s.", name), Context: next}
	}
	if r.Cart.Add(p) {
		return Outcome{
			Reply:     fmt.Sprintf("Added %s to your cart.", p.Title),
			Context:   next,
			CartDirty: true,
		}
	}
	return Outcome{
		Reply:   fmt.Sprintf("%s is already in your cart.", p.Title),
		Context: next,
	}
}

func (r *Router) removeFromCart(resp *parser.Response, next Context) Outcome {
	keyword := strings.TrimSpace(resp.Filters.Product)
	if keyword == "" {
		return Outcome{Reply: "Sorry, I couldn't tell which item to remove.", Context: next}
	}
	if n := r.Cart.RemoveByKeyword(keyword); n > 0 {
		return Outcome{
			Reply:     fmt.Sprintf("Removed %s from your cart.", keyword),
			Context:   next,
			CartDirty: true,
		}
	}
	return Outcome{Reply: fmt.Sprintf("Sorry, I couldn't find %s in your cart.", keyword), Context: next}
}

func (r *Router) applyFilter(utterance string, resp *parser.Response, next Context) Outcome {
	if len(resp.Matches) == 0 {
		return Outcome{
			Reply:     fmt.Sprintf("Sorry, I couldn't find anything for %q. Try a different request.", utterance),
			Context:   next,
			Filters:   resp.Filters,
			Displayed: r.Catalog.Products(),
		}
	}

	out := Outcome{
		Reply:     summarize(resp.Matches),
		Context:   next,
		Filters:   resp.Filters,
		Displayed: resp.Matches,
	}
	if r.AutoPresent {
		top := resp.Matches[0]
		out.Present = &top
	}
	return out
}

func summarize(matches []catalog.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d items. ", len(matches))
	n := len(matches)
	if n > maxSpokenResults {
		n = maxSpokenResults
	}
	b.WriteString("Top results: ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s at $%.2f", matches[i].Title, matches[i].Price)
	}
	b.WriteString(".")
	return b.String()
}
