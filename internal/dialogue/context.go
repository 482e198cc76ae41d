package dialogue

import "github.com/codegirlMaya1/shopperAssistant/internal/parser"

// Context is the cross-turn dialogue state: the filters last applied and the
// slots the parser still wants filled. It is a value passed explicitly through
// each turn and replaced wholesale from parser responses; nothing else may
// mutate it.
type Context struct {
	LastFilters  parser.Filters
	PendingSlots []string
}

// Merge returns the context to carry into the next turn. The parser owns slot
// accumulation, so a response carrying a context payload replaces everything;
// a response without one keeps the previous context so partial responses do
// not wipe continuity.
func (c Context) Merge(resp *parser.Response) Context {
	if resp == nil || resp.Context == nil {
		return c
	}
	return Context{
		LastFilters:  resp.Context.LastFilters,
		PendingSlots: resp.Context.PendingSlots,
	}
}

// Payload shapes the context for the wire.
func (c Context) Payload() parser.ContextPayload {
	return parser.ContextPayload{
		LastFilters:  c.LastFilters,
		PendingSlots: c.PendingSlots,
	}
}
