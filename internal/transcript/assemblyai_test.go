package transcript

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

func TestDetectVoiceActivity_SetsLastVoiceOnLoudFrame(t *testing.T) {
	s := NewAssemblyAIStream("test")
	// craft a loud 10ms frame
	samples := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(samples[i*2:(i+1)*2], 3000)
	}
	if s.RecentlyDetectedVoice(time.Second) {
		t.Fatal("no voice should be recorded before any audio")
	}
	s.detectVoiceActivity(samples)
	if !s.RecentlyDetectedVoice(time.Second) {
		t.Fatal("loud frame should register as voice")
	}
}

func TestDetectVoiceActivity_IgnoresQuietFrame(t *testing.T) {
	s := NewAssemblyAIStream("test")
	samples := make([]byte, 160*2) // all zeroes
	s.detectVoiceActivity(samples)
	if s.RecentlyDetectedVoice(time.Second) {
		t.Fatal("silence must not register as voice")
	}
}

func TestProcessMessage_TurnEmitsUpdate(t *testing.T) {
	s := NewAssemblyAIStream("test")
	s.processMessage([]byte(`{"type":"Turn","transcript":"show me dresses","turn_is_formatted":false}`))
	select {
	case u := <-s.Updates():
		if u.Text != "show me dresses" || u.Final {
			t.Fatalf("unexpected update: %+v", u)
		}
	default:
		t.Fatal("expected an update for a Turn message")
	}
}

func TestProcessMessage_EmptyTranscriptDropped(t *testing.T) {
	s := NewAssemblyAIStream("test")
	s.processMessage([]byte(`{"type":"Turn","transcript":""}`))
	select {
	case u := <-s.Updates():
		t.Fatalf("empty transcript must not emit, got %+v", u)
	default:
	}
}

func TestStart_WithoutKeyIsUnsupported(t *testing.T) {
	s := NewAssemblyAIStream("")
	if err := s.Start(); !errors.Is(err, speech.ErrRecognitionUnsupported) {
		t.Fatalf("expected ErrRecognitionUnsupported, got %v", err)
	}
}

func TestFeedPCM16KLE_DroppedWhileInactive(t *testing.T) {
	s := NewAssemblyAIStream("test")
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	if err := s.FeedPCM16KLE(make([]byte, 320)); err != nil {
		t.Fatalf("feed while inactive should be a silent drop, got %v", err)
	}
	select {
	case <-s.audioData:
		t.Fatal("audio fed while the microphone is off must not be queued")
	default:
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	if err := s.FeedPCM16KLE(make([]byte, 320)); err != nil {
		t.Fatalf("feed while active: %v", err)
	}
	select {
	case <-s.audioData:
	default:
		t.Fatal("audio fed while active should be queued")
	}
}
