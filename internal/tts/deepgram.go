// Package tts synthesizes assistant replies into 48 kHz PCM and plays them
// through a pluggable audio sink.
package tts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

// PCMSink receives synthesized 48 kHz 16-bit little-endian PCM for playback.
// Reset drops queued audio immediately so cancellation feels instant.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

// auraVoices is the fixed Deepgram Aura lineup. The persona descriptor in the
// name feeds the name-substring voice selection upstream.
var auraVoices = []speech.Voice{
	{ID: "aura-2-thalia-en", Name: "Thalia (female, en-US)"},
	{ID: "aura-asteria-en", Name: "Asteria (female, en-US)"},
	{ID: "aura-luna-en", Name: "Luna (female, en-US)"},
	{ID: "aura-athena-en", Name: "Athena (female, en-GB)"},
	{ID: "aura-orion-en", Name: "Orion (male, en-US)"},
	{ID: "aura-arcas-en", Name: "Arcas (male, en-US)"},
}

// DeepgramSpeaker is a speech.Synthesizer over the Deepgram speak WebSocket
// API. One synthesis runs at a time; Speak blocks until all audio reached the
// sink or the context was canceled.
type DeepgramSpeaker struct {
	apiKey     string
	sink       PCMSink
	sampleRate int
	encoding   string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDeepgramSpeaker wires a speaker to a playback sink.
func NewDeepgramSpeaker(apiKey string, sink PCMSink) *DeepgramSpeaker {
	if sink == nil {
		sink = nopSink{}
	}
	return &DeepgramSpeaker{apiKey: apiKey, sink: sink, sampleRate: 48000, encoding: "linear16"}
}

// Voices returns the Aura lineup. It is static, so callers never wait on
// enumeration.
func (d *DeepgramSpeaker) Voices() []speech.Voice { return auraVoices }

// OnVoicesChanged is a no-op; the voice list never changes after startup.
func (d *DeepgramSpeaker) OnVoicesChanged(func([]speech.Voice)) {}

// Cancel aborts the in-flight synthesis and drops queued audio.
func (d *DeepgramSpeaker) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.sink.Reset()
}

// Speak synthesizes text with the given voice and blocks until playback
// audio has fully reached the sink.
func (d *DeepgramSpeaker) Speak(ctx context.Context, text string, voice speech.Voice) error {
	if d.apiKey == "" {
		return fmt.Errorf("tts: deepgram API key missing")
	}
	if text == "" {
		return nil
	}
	model := voice.ID
	if model == "" {
		model = auraVoices[0].ID
	}

	sctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
	}()

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		if sctx.Err() == nil {
			b := make([]byte, len(data))
			copy(b, data)
			d.sink.WritePCM(b)
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(sctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("tts: create ws client: %w", err)
	}

	var stopOnce sync.Once
	stopClient := func() { stopOnce.Do(func() { dg.Stop() }) }
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("tts: deepgram connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("tts: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("tts: flush error: %v", err)
	}

	// Completion is inferred from the audio stream going idle; the server
	// does not send an explicit end-of-audio for this mode.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-sctx.Done():
			stopClient()
			return sctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					d.sink.FlushTail()
					return nil
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				if atomic.LoadInt32(&seenAudio) == 1 {
					d.sink.FlushTail()
					return nil
				}
				return fmt.Errorf("tts: no audio within deadline")
			}
		}
	}
}

type nopSink struct{}

func (nopSink) WritePCM([]byte) {}
func (nopSink) FlushTail()      {}
func (nopSink) Reset()          {}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
