package speech

import (
	"strings"
	"sync"
	"time"
)

// DebounceWindow is the silence window after which accumulated transcript text
// is judged complete and emitted as a finalized utterance.
const DebounceWindow = 1000 * time.Millisecond

// Utterance is a block of transcribed speech finalized by the debouncer. It is
// consumed exactly once and never mutated after finalization.
type Utterance struct {
	Text  string
	Heard time.Time
}

// Debouncer coalesces a continuous stream of transcript deltas into discrete
// utterances. Each delta restarts the silence timer; when the timer fires with
// no newer delta and no synthesis in progress, the trimmed accumulated text is
// emitted once and the buffer cleared.
type Debouncer struct {
	window   time.Duration
	speaking func() bool
	emit     func(Utterance)

	mu        sync.Mutex
	buf       string
	lastHeard time.Time
	timer     *time.Timer
}

// NewDebouncer builds a debouncer. speaking is sampled to suppress deltas and
// timer fires while synthesis is active; emit receives finalized utterances.
func NewDebouncer(window time.Duration, speaking func() bool, emit func(Utterance)) *Debouncer {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Debouncer{window: window, speaking: speaking, emit: emit}
}

// Observe records a transcript delta and restarts the silence timer. Deltas
// heard while the assistant is speaking are dropped; the microphone should be
// off then, this guards the race where one slips through as synthesis starts.
func (d *Debouncer) Observe(text string) {
	if text == "" || d.speaking() {
		return
	}
	d.mu.Lock()
	switch {
	case d.buf == "" || strings.HasPrefix(text, d.buf):
		// Running-transcript style updates replace the buffer.
		d.buf = text
	default:
		// Incremental style updates append.
		d.buf = strings.TrimSpace(d.buf) + " " + text
	}
	d.lastHeard = time.Now()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	} else {
		d.timer.Stop()
		d.timer.Reset(d.window)
	}
	d.mu.Unlock()
}

// fire runs when the silence timer elapses. The last-heard comparison, not
// timer cancellation alone, decides whether this firing is stale.
func (d *Debouncer) fire() {
	if d.speaking() {
		return
	}
	d.mu.Lock()
	if time.Since(d.lastHeard) < d.window {
		d.mu.Unlock()
		return
	}
	text := strings.TrimSpace(d.buf)
	heard := d.lastHeard
	d.buf = ""
	d.mu.Unlock()
	if text == "" {
		return
	}
	d.emit(Utterance{Text: text, Heard: heard})
}

// Reset drops any accumulated text so stale words can never be finalized.
// Called after every successfully resolved turn.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.buf = ""
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
}

// Stop halts the timer permanently.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.buf = ""
	d.mu.Unlock()
}
