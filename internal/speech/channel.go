package speech

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
)

// DefaultVoicePriority is the name-substring preference order for picking a
// synthesis voice. The empty string matches the first available voice.
var DefaultVoicePriority = []string{"samantha", "female", ""}

// Channel owns the microphone/speaker pair and keeps them mutually exclusive:
// at no instant is the channel both listening and speaking. Speak stops the
// recognizer, cancels any in-flight synthesis, and resumes listening only
// after the synthesizer reports completion.
type Channel struct {
	rec        Recognizer
	synth      Synthesizer
	voicePrefs []string

	mu          sync.Mutex
	listening   bool
	speaking    bool
	voice       Voice
	voicePicked bool
	needsEnable bool
	pending     string
	speakSeq    uint64
	cancelSpeak context.CancelFunc

	voicesReady chan struct{}
	readyOnce   sync.Once
}

// NewChannel wires a recognizer and synthesizer into a channel. The voices
// latch opens as soon as the synthesizer reports a non-empty voice list,
// whether that happens now or later.
func NewChannel(rec Recognizer, synth Synthesizer, voicePrefs []string) *Channel {
	if len(voicePrefs) == 0 {
		voicePrefs = DefaultVoicePriority
	}
	c := &Channel{
		rec:         rec,
		synth:       synth,
		voicePrefs:  voicePrefs,
		voicesReady: make(chan struct{}),
	}
	synth.OnVoicesChanged(func(vs []Voice) {
		if len(vs) > 0 {
			c.readyOnce.Do(func() { close(c.voicesReady) })
		}
	})
	if len(synth.Voices()) > 0 {
		c.readyOnce.Do(func() { close(c.voicesReady) })
	}
	return c
}

// Updates exposes the recognizer's transcript stream.
func (c *Channel) Updates() <-chan Update { return c.rec.Updates() }

// StartListening begins continuous transcription. It refuses while synthesis
// is active; the speak path resumes the microphone itself on completion.
func (c *Channel) StartListening() error {
	c.mu.Lock()
	if c.speaking || c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	c.mu.Unlock()
	if err := c.rec.Start(); err != nil {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// StopListening halts transcription.
func (c *Channel) StopListening() error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = false
	c.mu.Unlock()
	return c.rec.Stop()
}

// Listening reports whether the microphone is active.
func (c *Channel) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Speaking reports whether synthesis is in progress.
func (c *Channel) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Speak synthesizes text and blocks until playback completes. Starting a new
// Speak cancels any in-flight one (last call wins). The first call waits for
// the platform voice list before selecting a voice by name-substring priority.
func (c *Channel) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_ = c.StopListening()

	c.mu.Lock()
	if c.cancelSpeak != nil {
		c.cancelSpeak()
		c.synth.Cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.cancelSpeak = cancel
	c.speaking = true
	c.speakSeq++
	seq := c.speakSeq
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		// A newer Speak may have taken over; only the current call may
		// clear the speaking state and resume the microphone.
		if c.speakSeq != seq {
			c.mu.Unlock()
			return
		}
		c.speaking = false
		c.cancelSpeak = nil
		resume := !c.needsEnable
		c.mu.Unlock()
		if resume {
			_ = c.StartListening()
		}
	}()

	// Voice enumeration can arrive after startup; the latch gates the first
	// utterance so the preferred voice is applied before anything is spoken.
	select {
	case <-c.voicesReady:
	case <-sctx.Done():
		return sctx.Err()
	}

	c.mu.Lock()
	if !c.voicePicked {
		c.voice = pickVoice(c.synth.Voices(), c.voicePrefs)
		c.voicePicked = true
		log.Printf("speech: selected voice %q", c.voice.Name)
	}
	v := c.voice
	c.mu.Unlock()

	err := c.synth.Speak(sctx, text, v)
	if errors.Is(err, ErrSynthesisBlocked) {
		c.mu.Lock()
		c.needsEnable = true
		c.pending = text
		c.mu.Unlock()
		return err
	}
	return err
}

// NeedsEnable reports whether the host blocked synthesis and is waiting for a
// user-initiated unlock.
func (c *Channel) NeedsEnable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsEnable
}

// EnableVoice is the one-shot unlock invoked from a user gesture. It retries
// the utterance that was blocked, typically the greeting.
func (c *Channel) EnableVoice(ctx context.Context) error {
	c.mu.Lock()
	if !c.needsEnable {
		c.mu.Unlock()
		return nil
	}
	c.needsEnable = false
	text := c.pending
	c.pending = ""
	c.mu.Unlock()
	if text == "" {
		return nil
	}
	return c.Speak(ctx, text)
}

// Close releases the recognizer.
func (c *Channel) Close() error {
	_ = c.StopListening()
	return c.rec.Close()
}

// pickVoice selects the first voice whose name contains a preferred substring,
// walking the priority list in order. An empty preference matches the first
// available voice.
func pickVoice(voices []Voice, prefs []string) Voice {
	if len(voices) == 0 {
		return Voice{}
	}
	for _, pref := range prefs {
		if pref == "" {
			return voices[0]
		}
		p := strings.ToLower(pref)
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), p) {
				return v
			}
		}
	}
	return voices[0]
}
