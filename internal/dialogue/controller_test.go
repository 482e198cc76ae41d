package dialogue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

type stubRecognizer struct {
	updates chan speech.Update
}

func newStubRecognizer() *stubRecognizer {
	return &stubRecognizer{updates: make(chan speech.Update, 8)}
}

func (s *stubRecognizer) Start() error                  { return nil }
func (s *stubRecognizer) Stop() error                   { return nil }
func (s *stubRecognizer) Updates() <-chan speech.Update { return s.updates }
func (s *stubRecognizer) Close() error                  { return nil }

func (s *stubRecognizer) hear(text string) {
	s.updates <- speech.Update{Text: text, At: time.Now()}
}

type stubSynthesizer struct {
	mu     sync.Mutex
	spoken []string
}

func (s *stubSynthesizer) Speak(_ context.Context, text string, _ speech.Voice) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *stubSynthesizer) Cancel() {}

func (s *stubSynthesizer) Voices() []speech.Voice {
	return []speech.Voice{{ID: "1", Name: "Samantha"}}
}

func (s *stubSynthesizer) OnVoicesChanged(func([]speech.Voice)) {}

func (s *stubSynthesizer) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

type stubRecorder struct {
	called bool
	items  []catalog.Product
	total  float64
}

func (s *stubRecorder) RecordCheckout(_ context.Context, items []catalog.Product, total float64) (string, error) {
	s.called = true
	s.items = items
	s.total = total
	return "CF-482917", nil
}

type harness struct {
	ctrl     *Controller
	synth    *stubSynthesizer
	rec      *stubRecognizer
	parser   *fakeParser
	cart     *cart.Cart
	recorder *stubRecorder

	mu           sync.Mutex
	navigated    bool
	cartSeen     [][]catalog.Product
	displayed    []catalog.Product
	filterEvents int
}

func newHarness(t *testing.T, fp *fakeParser, autoPresent bool) *harness {
	t.Helper()
	h := newHarnessWith(t, fp, autoPresent)
	h.parser = fp
	return h
}

func newHarnessWith(t *testing.T, p Parser, autoPresent bool) *harness {
	t.Helper()
	h := &harness{
		synth:    &stubSynthesizer{},
		rec:      newStubRecognizer(),
		cart:     cart.New(),
		recorder: &stubRecorder{},
	}
	ch := speech.NewChannel(h.rec, h.synth, nil)
	h.ctrl = NewController(Config{
		Channel: ch,
		Router: &Router{
			Parser:      p,
			Catalog:     testCatalog(),
			Cart:        h.cart,
			AutoPresent: autoPresent,
		},
		Cart:     h.cart,
		Recorder: h.recorder,
		Callbacks: Callbacks{
			OnFiltersChanged: func(_ parser.Filters, displayed []catalog.Product) {
				h.mu.Lock()
				h.displayed = displayed
				h.filterEvents++
				h.mu.Unlock()
			},
			OnCartChanged: func(items []catalog.Product) {
				h.mu.Lock()
				h.cartSeen = append(h.cartSeen, items)
				h.mu.Unlock()
			},
			OnNavigateToCheckout: func() {
				h.mu.Lock()
				h.navigated = true
				h.mu.Unlock()
			},
		},
		DebounceWindow: 30 * time.Millisecond,
	})
	return h
}

func TestController_PresentThenYesAddsOnce(t *testing.T) {
	h := newHarness(t, &fakeParser{resp: &parser.Response{}}, false)
	p := catalog.Product{ID: 1, Title: "Fjallraven Backpack", Price: 109.95, Description: "Fits 15 inch laptops. Padded straps."}

	h.ctrl.PresentProduct(context.Background(), p)

	spoken := h.synth.texts()
	if len(spoken) != 2 {
		t.Fatalf("presentation is two sequential utterances, got %v", spoken)
	}
	if !strings.Contains(spoken[0], "Fjallraven Backpack") || !strings.Contains(spoken[0], "109.95") {
		t.Fatalf("pitch %q should carry title and price", spoken[0])
	}
	if strings.Contains(spoken[0], "Padded straps") {
		t.Fatalf("pitch %q should keep only the first sentence of the description", spoken[0])
	}
	if !strings.Contains(spoken[1], "add it to your cart") {
		t.Fatalf("second utterance %q should be the question", spoken[1])
	}
	if _, awaiting := h.ctrl.Confirmer().Pending(); !awaiting {
		t.Fatal("confirmer should be awaiting a decision")
	}

	h.ctrl.Resolve(context.Background(), "yes please")
	if h.cart.Len() != 1 || h.cart.Items()[0].ID != 1 {
		t.Fatalf("cart should hold the presented product, got %+v", h.cart.Items())
	}
	if _, awaiting := h.ctrl.Confirmer().Pending(); awaiting {
		t.Fatal("a yes decision must return the confirmer to idle")
	}
	if len(h.cartSeen) != 1 {
		t.Fatalf("OnCartChanged should fire once, got %d", len(h.cartSeen))
	}

	// a second presentation of the same product, confirmed again, stays size 1
	h.ctrl.PresentProduct(context.Background(), p)
	h.ctrl.Resolve(context.Background(), "yes")
	if h.cart.Len() != 1 {
		t.Fatalf("confirming the same product twice must not duplicate it, got %d", h.cart.Len())
	}
}

func TestController_NoDecisionRedirects(t *testing.T) {
	h := newHarness(t, &fakeParser{resp: &parser.Response{}}, false)
	h.ctrl.PresentProduct(context.Background(), catalog.Product{ID: 2, Title: "Mens Casual T-Shirt", Price: 22.30})

	h.ctrl.Resolve(context.Background(), "no thanks")
	if h.cart.Len() != 0 {
		t.Fatal("a no decision must not touch the cart")
	}
	if _, awaiting := h.ctrl.Confirmer().Pending(); awaiting {
		t.Fatal("a no decision must clear the pending product")
	}
	spoken := h.synth.texts()
	if !strings.Contains(spoken[len(spoken)-1], "What else") {
		t.Fatalf("expected a redirect prompt, got %q", spoken[len(spoken)-1])
	}
}

func TestController_CheckoutDecision(t *testing.T) {
	h := newHarness(t, &fakeParser{resp: &parser.Response{}}, false)
	h.cart.Add(catalog.Product{ID: 1, Title: "Fjallraven Backpack", Price: 100})
	h.ctrl.PresentProduct(context.Background(), catalog.Product{ID: 3, Title: "Womens Summer Dress", Price: 39.99})

	h.ctrl.Resolve(context.Background(), "take me to checkout")

	if !h.recorder.called {
		t.Fatal("checkout must be recorded")
	}
	h.mu.Lock()
	navigated := h.navigated
	h.mu.Unlock()
	if !navigated {
		t.Fatal("checkout must trigger navigation")
	}
	spoken := h.synth.texts()
	last := spoken[len(spoken)-1]
	if !strings.Contains(last, "CF-482917") {
		t.Fatalf("summary %q should carry the confirmation code", last)
	}
	if _, awaiting := h.ctrl.Confirmer().Pending(); awaiting {
		t.Fatal("checkout must return the confirmer to idle")
	}
}

func TestController_UnmatchedReplyFallsThroughToRouter(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Matches: []catalog.Product{{ID: 3, Title: "Womens Summer Dress", Price: 39.99}},
	}}
	h := newHarness(t, fp, false)
	h.ctrl.PresentProduct(context.Background(), catalog.Product{ID: 2, Title: "Mens Casual T-Shirt", Price: 22.30})

	h.ctrl.Resolve(context.Background(), "show me dresses instead")

	if fp.gotText != "show me dresses instead" {
		t.Fatalf("unmatched reply must reach the router, parser saw %q", fp.gotText)
	}
	if _, awaiting := h.ctrl.Confirmer().Pending(); !awaiting {
		t.Fatal("an unresolved reply must keep the pending product")
	}
	h.mu.Lock()
	displayed := h.displayed
	h.mu.Unlock()
	if len(displayed) != 1 {
		t.Fatalf("router outcome should still apply, displayed=%d", len(displayed))
	}
}

func TestController_AutoPresentEntersConfirmation(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Matches: []catalog.Product{{ID: 3, Title: "Womens Summer Dress", Price: 39.99, Description: "Light cotton."}},
	}}
	h := newHarness(t, fp, true)

	h.ctrl.Resolve(context.Background(), "show me dresses")

	p, awaiting := h.ctrl.Confirmer().Pending()
	if !awaiting || p.ID != 3 {
		t.Fatalf("top match should be pending confirmation, got %+v", p)
	}
	spoken := h.synth.texts()
	if len(spoken) != 3 {
		t.Fatalf("expected summary, pitch, question in order, got %v", spoken)
	}
	if !strings.Contains(spoken[0], "I found 1 items") && !strings.Contains(spoken[0], "1 items") {
		t.Fatalf("first utterance should be the summary, got %q", spoken[0])
	}
}

// racingParser stalls its first call until the second one has answered, so
// an older turn's reply always comes back after a newer turn began.
type racingParser struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	first   *parser.Response
	second  *parser.Response
}

func (p *racingParser) Parse(_ context.Context, _ string, _ parser.ContextPayload) (*parser.Response, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	if n == 1 {
		<-p.release
		return p.first, nil
	}
	defer close(p.release)
	return p.second, nil
}

func (p *racingParser) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestController_SupersededRouteReplyDiscarded(t *testing.T) {
	rp := &racingParser{
		release: make(chan struct{}),
		first:   &parser.Response{Matches: []catalog.Product{{ID: 1, Title: "Fjallraven Backpack", Price: 109.95}}},
		second:  &parser.Response{Matches: []catalog.Product{{ID: 3, Title: "Womens Summer Dress", Price: 39.99}}},
	}
	h := newHarnessWith(t, rp, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.ctrl.Run(ctx) }()

	h.rec.hear("show me backpacks")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rp.callCount() >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rp.callCount() < 1 {
		t.Fatal("first parse never started")
	}

	// A new turn begins while the first parse is still in flight.
	h.rec.hear("show me dresses")

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := h.filterEvents
		h.mu.Unlock()
		if n >= 1 && rp.callCount() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // let any late reply arrive

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.filterEvents != 1 {
		t.Fatalf("only the newest turn's reply may apply, saw %d filter events", h.filterEvents)
	}
	if len(h.displayed) != 1 || h.displayed[0].Title != "Womens Summer Dress" {
		t.Fatalf("superseded reply leaked through, displayed %+v", h.displayed)
	}
}

func TestController_RunFinalizesDebouncedUtterance(t *testing.T) {
	fp := &fakeParser{resp: &parser.Response{
		Matches: []catalog.Product{{ID: 3, Title: "Womens Summer Dress", Price: 39.99}},
	}}
	h := newHarness(t, fp, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.ctrl.Run(ctx) }()

	// wait for the greeting before feeding deltas
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(h.synth.texts()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.synth.texts(); len(got) == 0 || !strings.Contains(got[0], "Sandy") {
		t.Fatalf("greeting should be spoken first, got %v", got)
	}

	h.rec.hear("show me")
	h.rec.hear("show me summer dresses")

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fp.lastText() != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := fp.lastText(); got != "show me summer dresses" {
		t.Fatalf("debounced utterance should reach the parser, got %q", got)
	}

	cancel()
	select {
	case <-h.ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not shut down")
	}
}
