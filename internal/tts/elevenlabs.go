package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

// ElevenLabsSpeaker is the alternative speech.Synthesizer, streaming PCM over
// the ElevenLabs HTTP endpoint. Used when no Deepgram key is configured.
type ElevenLabsSpeaker struct {
	APIKey     string
	HTTPClient *http.Client
	sink       PCMSink

	mu     sync.Mutex
	cancel context.CancelFunc
}

// elevenVoices is a small curated lineup; IDs are ElevenLabs voice ids.
var elevenVoices = []speech.Voice{
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah (female, en-US)"},
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel (female, en-US)"},
	{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh (male, en-US)"},
}

// NewElevenLabsSpeaker wires the speaker to a playback sink.
func NewElevenLabsSpeaker(apiKey string, sink PCMSink) *ElevenLabsSpeaker {
	if sink == nil {
		sink = nopSink{}
	}
	return &ElevenLabsSpeaker{APIKey: apiKey, HTTPClient: &http.Client{Timeout: 0}, sink: sink}
}

// Voices returns the curated lineup.
func (e *ElevenLabsSpeaker) Voices() []speech.Voice { return elevenVoices }

// OnVoicesChanged is a no-op; the lineup is static.
func (e *ElevenLabsSpeaker) OnVoicesChanged(func([]speech.Voice)) {}

// Cancel aborts the in-flight synthesis and drops queued audio.
func (e *ElevenLabsSpeaker) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.sink.Reset()
}

// Speak streams synthesized PCM into the sink, blocking until the server
// closes the stream or ctx is canceled.
func (e *ElevenLabsSpeaker) Speak(ctx context.Context, text string, voice speech.Voice) error {
	if e.APIKey == "" {
		return fmt.Errorf("tts: elevenlabs API key missing")
	}
	if text == "" {
		return nil
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = elevenVoices[0].ID
	}

	sctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + voiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts: elevenlabs stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tts: elevenlabs status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 && sctx.Err() == nil {
			out := make([]byte, n)
			copy(out, chunk[:n])
			e.sink.WritePCM(out)
		}
		if rerr != nil {
			if rerr == io.EOF {
				e.sink.FlushTail()
				return nil
			}
			if sctx.Err() != nil {
				return sctx.Err()
			}
			return fmt.Errorf("tts: elevenlabs read: %w", rerr)
		}
	}
}
