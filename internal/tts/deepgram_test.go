package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type captureSink struct {
	mu      sync.Mutex
	written [][]byte
	flushed int
	resets  int
}

func (c *captureSink) WritePCM(pcm []byte) {
	c.mu.Lock()
	c.written = append(c.written, pcm)
	c.mu.Unlock()
}

func (c *captureSink) FlushTail() {
	c.mu.Lock()
	c.flushed++
	c.mu.Unlock()
}

func (c *captureSink) Reset() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func TestDeepgram_SpeakWithoutKeyErrors(t *testing.T) {
	d := NewDeepgramSpeaker("", &captureSink{})
	if err := d.Speak(context.Background(), "hello", d.Voices()[0]); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestDeepgram_EmptyTextIsNoop(t *testing.T) {
	sink := &captureSink{}
	d := NewDeepgramSpeaker("key", sink)
	if err := d.Speak(context.Background(), "", d.Voices()[0]); err != nil {
		t.Fatalf("empty text should be a no-op, got %v", err)
	}
	if len(sink.written) != 0 {
		t.Fatal("no audio expected for empty text")
	}
}

func TestDeepgram_VoicesAreStaticAndFemaleFirst(t *testing.T) {
	d := NewDeepgramSpeaker("key", nil)
	vs := d.Voices()
	if len(vs) == 0 {
		t.Fatal("voice lineup must not be empty")
	}
	if !strings.Contains(strings.ToLower(vs[0].Name), "female") {
		t.Fatalf("first voice should be the female default, got %q", vs[0].Name)
	}
}

func TestDeepgram_CancelResetsSink(t *testing.T) {
	sink := &captureSink{}
	d := NewDeepgramSpeaker("key", sink)
	d.Cancel()
	if sink.resets != 1 {
		t.Fatalf("cancel must drop queued audio, resets=%d", sink.resets)
	}
}

func TestElevenLabs_SpeakStreamsIntoSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("pcm-bytes-here"))
	}))
	defer srv.Close()

	sink := &captureSink{}
	e := NewElevenLabsSpeaker("key", sink)
	e.HTTPClient = &http.Client{Transport: rewriteTo(srv.URL)}

	if err := e.Speak(context.Background(), "hello", e.Voices()[0]); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(sink.written) == 0 {
		t.Fatal("audio should reach the sink")
	}
	if sink.flushed != 1 {
		t.Fatalf("tail should be flushed once on completion, got %d", sink.flushed)
	}
}

func TestElevenLabs_SpeakSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewElevenLabsSpeaker("key", &captureSink{})
	e.HTTPClient = &http.Client{Transport: rewriteTo(srv.URL)}
	err := e.Speak(context.Background(), "hello", e.Voices()[0])
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// rewriteTo redirects any outbound request to the test server while keeping
// path and headers intact.
func rewriteTo(base string) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		target := strings.TrimPrefix(base, "http://")
		r.URL.Scheme = "http"
		r.URL.Host = target
		return http.DefaultTransport.RoundTrip(r)
	})
}
