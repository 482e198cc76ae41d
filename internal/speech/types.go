package speech

import (
	"context"
	"errors"
	"time"
)

// Update is one transcript delta from the platform recognizer. Text carries
// the running transcript for the current stretch of speech; Final marks chunks
// the platform itself considers complete.
type Update struct {
	Text  string
	Final bool
	At    time.Time
}

// Recognizer is the minimal interface for continuous platform speech-to-text.
// Start and Stop toggle the microphone; Updates streams transcript deltas.
type Recognizer interface {
	Start() error
	Stop() error
	Updates() <-chan Update
	Close() error
}

// Voice identifies one synthesis voice offered by the platform.
type Voice struct {
	ID   string
	Name string
}

// Synthesizer is the platform text-to-speech player. Speak blocks until
// playback completes or ctx is canceled. The enumerated voice list may be
// empty until the platform reports it; OnVoicesChanged fires when it does.
type Synthesizer interface {
	Speak(ctx context.Context, text string, voice Voice) error
	Cancel()
	Voices() []Voice
	OnVoicesChanged(fn func([]Voice))
}

var (
	// ErrSynthesisBlocked means the host refuses to play audio without a
	// prior user gesture. The channel holds the utterance and exposes a
	// one-shot unlock instead of retrying silently.
	ErrSynthesisBlocked = errors.New("speech: synthesis blocked, user gesture required")

	// ErrRecognitionUnsupported means the platform has no speech-to-text.
	// Fatal to voice mode only; the rest of the UI stays usable.
	ErrRecognitionUnsupported = errors.New("speech: recognition unsupported")
)
