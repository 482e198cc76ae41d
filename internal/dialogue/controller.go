package dialogue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

// DefaultGreeting opens every session. Spoken once, before listening starts.
const DefaultGreeting = "Hi, I'm Sandy, your shopping assistant. Tell me what you're looking for, for example women's dresses under fifty dollars."

// Callbacks are the hooks the embedding UI registers to mirror dialogue state.
// Any of them may be nil.
type Callbacks struct {
	OnFiltersChanged     func(filters parser.Filters, displayed []catalog.Product)
	OnCartChanged        func(items []catalog.Product)
	OnNavigateToCheckout func()
}

// CheckoutRecorder persists a finished checkout and returns its confirmation
// code.
type CheckoutRecorder interface {
	RecordCheckout(ctx context.Context, items []catalog.Product, total float64) (string, error)
}

// Controller is the session's single logical thread of control. It owns the
// speech channel, finalizes utterances through the debouncer, gives the
// confirmation sub-dialogue first refusal on each one, and falls back to the
// intent router. Dialogue state only ever changes on the event loop; routed
// replies re-enter it tagged with their turn token.
type Controller struct {
	channel   *speech.Channel
	deb       *speech.Debouncer
	router    *Router
	confirmer *Confirmer
	cart      *cart.Cart
	recorder  CheckoutRecorder
	callbacks Callbacks
	greeting  string

	dctx Context

	// turnSeq tokens each resolved turn so a routed reply arriving after the
	// turn was abandoned is discarded instead of applied.
	turnSeq    atomic.Uint64
	utterances chan speech.Utterance
	outcomes   chan turnOutcome
	done       chan struct{}
}

// turnOutcome carries a routed reply back to the event loop together with the
// token of the turn that asked for it.
type turnOutcome struct {
	seq uint64
	out Outcome
}

// Config wires a controller.
type Config struct {
	Channel        *speech.Channel
	Router         *Router
	Cart           *cart.Cart
	Recorder       CheckoutRecorder
	Callbacks      Callbacks
	Greeting       string
	DebounceWindow time.Duration
}

// NewController builds a controller around an already-wired speech channel.
func NewController(cfg Config) *Controller {
	c := &Controller{
		channel:    cfg.Channel,
		router:     cfg.Router,
		confirmer:  &Confirmer{},
		cart:       cfg.Cart,
		recorder:   cfg.Recorder,
		callbacks:  cfg.Callbacks,
		greeting:   cfg.Greeting,
		utterances: make(chan speech.Utterance, 4),
		outcomes:   make(chan turnOutcome, 4),
		done:       make(chan struct{}),
	}
	if c.greeting == "" {
		c.greeting = DefaultGreeting
	}
	c.deb = speech.NewDebouncer(cfg.DebounceWindow, c.channel.Speaking, func(u speech.Utterance) {
		select {
		case c.utterances <- u:
		default:
			log.Printf("dialogue: utterance dropped, turn still resolving")
		}
	})
	return c
}

// Confirmer exposes the confirmation sub-dialogue, for UI-initiated product
// presentation.
func (c *Controller) Confirmer() *Confirmer { return c.confirmer }

// Context returns the current dialogue context.
func (c *Controller) Context() Context { return c.dctx }

// EnableVoice forwards the one-shot synthesis unlock to the speech channel.
func (c *Controller) EnableVoice(ctx context.Context) error {
	return c.channel.EnableVoice(ctx)
}

// Run speaks the greeting, starts listening, and processes turns until ctx is
// canceled. It is the only goroutine that mutates dialogue state.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.deb.Stop()

	if err := c.channel.Speak(ctx, c.greeting); err != nil {
		// A blocked greeting is held by the channel for the unlock hook;
		// the session keeps going.
		log.Printf("dialogue: greeting not spoken: %v", err)
	}
	if err := c.channel.StartListening(); err != nil {
		return fmt.Errorf("dialogue: start listening: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return c.channel.Close()
		case u, ok := <-c.channel.Updates():
			if !ok {
				return c.channel.Close()
			}
			c.deb.Observe(u.Text)
		case utt := <-c.utterances:
			c.resolveTurn(ctx, utt)
		case res := <-c.outcomes:
			c.finishTurn(ctx, res)
		}
	}
}

// Done closes when Run has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Resolve runs one turn for an already-finalized utterance, synchronously.
// Exposed for transports that do their own finalization, such as telephony
// gather input.
func (c *Controller) Resolve(ctx context.Context, text string) {
	utt := speech.Utterance{Text: text, Heard: time.Now()}
	seq, routed := c.beginTurn(ctx, utt)
	if !routed {
		return
	}
	c.finishTurn(ctx, turnOutcome{seq: seq, out: c.router.Route(ctx, text, c.dctx)})
}

// resolveTurn starts one turn from the event loop. Routing happens off the
// loop so transcripts keep flowing while the remote parse is in flight; the
// outcome comes back through c.outcomes carrying the turn token.
func (c *Controller) resolveTurn(ctx context.Context, utt speech.Utterance) {
	seq, routed := c.beginTurn(ctx, utt)
	if !routed {
		return
	}
	dctx := c.dctx
	go func() {
		out := c.router.Route(ctx, utt.Text, dctx)
		select {
		case c.outcomes <- turnOutcome{seq: seq, out: out}:
		case <-ctx.Done():
		}
	}()
}

// beginTurn takes the next turn token and gives the confirmation sub-dialogue
// first refusal. It reports whether the utterance still needs routing.
func (c *Controller) beginTurn(ctx context.Context, utt speech.Utterance) (uint64, bool) {
	seq := c.turnSeq.Add(1)
	log.Printf("dialogue: turn %d heard %q", seq, utt.Text)

	if p, awaiting := c.confirmer.Pending(); awaiting {
		if d := Classify(utt.Text); d != DecisionNone {
			c.resolveDecision(ctx, p, d)
			c.deb.Reset()
			return seq, false
		}
		// Unmatched reply falls through to the router; the pending
		// product stays pending until something resolves it.
	}
	return seq, true
}

// finishTurn applies a routed outcome unless a newer turn has started since,
// in which case the late reply is dropped.
func (c *Controller) finishTurn(ctx context.Context, res turnOutcome) {
	if c.turnSeq.Load() != res.seq {
		log.Printf("dialogue: turn %d superseded, reply discarded", res.seq)
		return
	}
	c.applyOutcome(ctx, res.out)
	c.deb.Reset()
}

func (c *Controller) applyOutcome(ctx context.Context, out Outcome) {
	c.dctx = out.Context

	if out.Displayed != nil && c.callbacks.OnFiltersChanged != nil {
		c.callbacks.OnFiltersChanged(out.Filters, out.Displayed)
	}
	if out.CartDirty && c.callbacks.OnCartChanged != nil {
		c.callbacks.OnCartChanged(c.cart.Items())
	}

	if err := c.channel.Speak(ctx, out.Reply); err != nil {
		log.Printf("dialogue: reply not spoken: %v", err)
		return
	}
	if out.Present != nil {
		c.PresentProduct(ctx, *out.Present)
	}
}

// PresentProduct enters the confirmation sub-dialogue: the product pitch and
// the yes/no question are two sequential synthesis calls, the second strictly
// after the first completes.
func (c *Controller) PresentProduct(ctx context.Context, p catalog.Product) {
	c.confirmer.Present(p)
	pitch := fmt.Sprintf("%s, priced at $%.2f. %s", p.Title, p.Price, shortDescription(p.Description))
	if err := c.channel.Speak(ctx, pitch); err != nil {
		log.Printf("dialogue: pitch not spoken: %v", err)
		return
	}
	if err := c.channel.Speak(ctx, "Would you like to add it to your cart?"); err != nil {
		log.Printf("dialogue: question not spoken: %v", err)
	}
}

func (c *Controller) resolveDecision(ctx context.Context, p catalog.Product, d Decision) {
	c.confirmer.Clear()
	switch d {
	case DecisionYes:
		if c.cart.Add(p) && c.callbacks.OnCartChanged != nil {
			c.callbacks.OnCartChanged(c.cart.Items())
		}
		c.speak(ctx, fmt.Sprintf("Added %s to your cart. Anything else?", p.Title))
	case DecisionNo:
		c.speak(ctx, "No problem. What else can I help you find?")
	case DecisionContinue:
		c.speak(ctx, "Sure, let's keep shopping. What are you looking for?")
	case DecisionCheckout:
		c.checkout(ctx)
	}
}

func (c *Controller) checkout(ctx context.Context) {
	summary := c.cart.Summary()
	if c.recorder != nil && c.cart.Len() > 0 {
		code, err := c.recorder.RecordCheckout(ctx, c.cart.Items(), c.cart.Total())
		if err != nil {
			log.Printf("dialogue: checkout record failed: %v", err)
		} else {
			summary = fmt.Sprintf("%s Your confirmation code is %s.", summary, code)
		}
	}
	c.speak(ctx, summary)
	if c.callbacks.OnNavigateToCheckout != nil {
		c.callbacks.OnNavigateToCheckout()
	}
}

func (c *Controller) speak(ctx context.Context, text string) {
	if err := c.channel.Speak(ctx, text); err != nil {
		log.Printf("dialogue: reply not spoken: %v", err)
	}
}

// shortDescription keeps spoken pitches to one sentence.
func shortDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if i := strings.IndexByte(desc, '.'); i >= 0 {
		return desc[:i+1]
	}
	return desc
}
