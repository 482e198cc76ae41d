// Package wsbridge runs the dialogue against a browser over a WebSocket. The
// page owns the platform speech recognition and synthesis; the bridge relays
// transcript updates up and speak requests down, so the controller sees an
// ordinary recognizer and synthesizer pair.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

// Message is the JSON envelope both directions share. Unused fields stay
// empty on the wire.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Text    string          `json:"text,omitempty"`
	Final   bool            `json:"final,omitempty"`
	Voice   string          `json:"voice,omitempty"`
	Voices  []voiceEntry    `json:"voices,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type voiceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message types. The browser sends transcript, voices, speak-ended,
// speak-blocked, enable and coupon; the server sends listen-start,
// listen-stop, speak, cancel-speak and ui.
const (
	msgTranscript   = "transcript"
	msgVoices       = "voices"
	msgSpeakEnded   = "speak-ended"
	msgSpeakBlocked = "speak-blocked"
	msgEnable       = "enable"
	msgCoupon       = "coupon"

	msgListenStart = "listen-start"
	msgListenStop  = "listen-stop"
	msgSpeak       = "speak"
	msgCancelSpeak = "cancel-speak"
	msgUI          = "ui"
)

// Bridge adapts one browser WebSocket into a speech.Recognizer plus a
// speech.Synthesizer. It is single-session; one bridge per connection.
type Bridge struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	updates chan speech.Update

	mu       sync.Mutex
	voices   []speech.Voice
	onVoices []func([]speech.Voice)
	waiters  map[string]chan string
	onEnable func()
	onCoupon func()
	closed   bool
}

// NewBridge wraps an upgraded connection. ReadLoop must be started by the
// caller.
func NewBridge(conn *websocket.Conn) *Bridge {
	return &Bridge{
		conn:    conn,
		updates: make(chan speech.Update, 100),
		waiters: make(map[string]chan string),
	}
}

// OnEnable registers the hook run when the user taps the enable-voice
// affordance in the page.
func (b *Bridge) OnEnable(fn func()) {
	b.mu.Lock()
	b.onEnable = fn
	b.mu.Unlock()
}

// OnCoupon registers the hook run when the page submits the first-time
// shopper coupon form.
func (b *Bridge) OnCoupon(fn func()) {
	b.mu.Lock()
	b.onCoupon = fn
	b.mu.Unlock()
}

// ReadLoop pumps browser messages until the socket closes, then closes the
// update stream so the controller shuts down.
func (b *Bridge) ReadLoop() {
	defer b.shutdown()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			log.Printf("wsbridge: read: %v", err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("wsbridge: bad message: %v", err)
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg Message) {
	switch msg.Type {
	case msgTranscript:
		if msg.Text == "" {
			return
		}
		select {
		case b.updates <- speech.Update{Text: msg.Text, Final: msg.Final, At: time.Now()}:
		default:
		}
	case msgVoices:
		vs := make([]speech.Voice, 0, len(msg.Voices))
		for _, v := range msg.Voices {
			vs = append(vs, speech.Voice{ID: v.ID, Name: v.Name})
		}
		b.mu.Lock()
		b.voices = vs
		fns := append([]func([]speech.Voice){}, b.onVoices...)
		b.mu.Unlock()
		for _, fn := range fns {
			fn(vs)
		}
	case msgSpeakEnded, msgSpeakBlocked:
		b.mu.Lock()
		ch := b.waiters[msg.ID]
		delete(b.waiters, msg.ID)
		b.mu.Unlock()
		if ch != nil {
			ch <- msg.Type
		}
	case msgEnable:
		b.mu.Lock()
		fn := b.onEnable
		b.mu.Unlock()
		// The unlock hook speaks, and Speak waits for an ack only this
		// read loop can deliver. Never run it inline.
		if fn != nil {
			go fn()
		}
	case msgCoupon:
		b.mu.Lock()
		fn := b.onCoupon
		b.mu.Unlock()
		if fn != nil {
			go fn()
		}
	default:
		log.Printf("wsbridge: unknown message type %q", msg.Type)
	}
}

// Start asks the page to begin continuous recognition.
func (b *Bridge) Start() error { return b.send(Message{Type: msgListenStart}) }

// Stop halts recognition in the page.
func (b *Bridge) Stop() error { return b.send(Message{Type: msgListenStop}) }

// Updates returns the transcript stream.
func (b *Bridge) Updates() <-chan speech.Update { return b.updates }

// Close tears the socket down.
func (b *Bridge) Close() error {
	b.shutdown()
	return b.conn.Close()
}

// Voices returns the platform voice list the page last reported.
func (b *Bridge) Voices() []speech.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voices
}

// OnVoicesChanged registers a callback for voice list announcements.
func (b *Bridge) OnVoicesChanged(fn func([]speech.Voice)) {
	b.mu.Lock()
	b.onVoices = append(b.onVoices, fn)
	b.mu.Unlock()
}

// Speak sends one utterance to the page and blocks until the page reports
// playback ended, playback blocked, or ctx is canceled.
func (b *Bridge) Speak(ctx context.Context, text string, voice speech.Voice) error {
	id := uuid.NewString()
	done := make(chan string, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("wsbridge: connection closed")
	}
	b.waiters[id] = done
	b.mu.Unlock()

	if err := b.send(Message{Type: msgSpeak, ID: id, Text: text, Voice: voice.ID}); err != nil {
		b.mu.Lock()
		delete(b.waiters, id)
		b.mu.Unlock()
		return err
	}

	select {
	case outcome, ok := <-done:
		if !ok {
			return fmt.Errorf("wsbridge: connection closed")
		}
		if outcome == msgSpeakBlocked {
			return speech.ErrSynthesisBlocked
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.waiters, id)
		b.mu.Unlock()
		return ctx.Err()
	}
}

// PushUI sends an application event for the page to render, such as filter or
// cart updates.
func (b *Bridge) PushUI(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsbridge: encode ui event: %w", err)
	}
	return b.send(Message{Type: msgUI, Payload: raw})
}

// Cancel tells the page to stop any in-flight playback.
func (b *Bridge) Cancel() {
	_ = b.send(Message{Type: msgCancelSpeak})
}

func (b *Bridge) send(msg Message) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(msg)
}

func (b *Bridge) shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.waiters {
		delete(b.waiters, id)
		close(ch)
	}
	b.mu.Unlock()
	close(b.updates)
}
