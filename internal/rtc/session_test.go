package rtc

import (
	"context"
	"sync"
	"testing"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

type fakeSynth struct {
	mu       sync.Mutex
	canceled int
}

func (f *fakeSynth) Speak(context.Context, string, speech.Voice) error { return nil }
func (f *fakeSynth) Voices() []speech.Voice                            { return nil }
func (f *fakeSynth) OnVoicesChanged(func([]speech.Voice))              {}

func (f *fakeSynth) Cancel() {
	f.mu.Lock()
	f.canceled++
	f.mu.Unlock()
}

func (f *fakeSynth) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func TestSessionState_ControlBeforeWiringIsNoOp(t *testing.T) {
	st := &sessionState{id: "t1"}
	// Nothing is stored yet; none of these may panic.
	for _, cmd := range []string{"stop", "cancel", "barge-in", "enable", "coupon", "bogus"} {
		st.handleControl(cmd)
	}
}

func TestSessionState_BargeInCancelsSynth(t *testing.T) {
	st := &sessionState{id: "t2"}
	fs := &fakeSynth{}
	var synth speech.Synthesizer = fs
	st.synth.Store(&synth)

	st.handleControl("barge-in")
	st.handleControl(" STOP ")
	st.handleControl("cancel")
	if got := fs.cancels(); got != 3 {
		t.Fatalf("expected 3 cancels, got %d", got)
	}
}

func TestSessionState_CouponAppliesOnce(t *testing.T) {
	st := &sessionState{id: "t3"}
	sc := cart.New()
	sc.Add(catalog.Product{ID: 1, Title: "Gold Ring", Price: 100})
	st.cart.Store(sc)

	st.handleControl("coupon")
	if got := sc.Total(); got != 80 {
		t.Fatalf("coupon should discount the total, got %v", got)
	}
	st.handleControl("coupon")
	if got := sc.Total(); got != 80 {
		t.Fatalf("coupon must be one-shot, got %v", got)
	}
}

func TestSessionState_ConcurrentWiringAndControl(t *testing.T) {
	st := &sessionState{id: "t4"}
	fs := &fakeSynth{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var synth speech.Synthesizer = fs
		st.synth.Store(&synth)
		st.cart.Store(cart.New())
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			st.handleControl("barge-in")
			st.handleControl("coupon")
		}
	}()
	wg.Wait()
}
