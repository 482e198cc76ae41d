// Package transcript streams microphone audio to AssemblyAI and exposes the
// running transcript as speech recognizer updates. Utterance finalization is
// not done here; the dialogue layer debounces the update stream itself.
package transcript

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
)

// voiceRMS is the PCM energy floor above which a chunk counts as voice.
const voiceRMS = 250.0

// AssemblyAIStream is a speech.Recognizer backed by the AssemblyAI v3
// streaming API. Audio is fed as 16 kHz little-endian PCM; transcript turns
// come back as running-text updates.
type AssemblyAIStream struct {
	apiKey string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	active    bool

	updates   chan speech.Update
	audioData chan []byte
	stopCh    chan struct{}
	stopOnce  sync.Once

	voiceMu       sync.Mutex
	lastVoiceTime time.Time
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAIStream builds an unconnected stream. Connect must be called
// before audio is fed.
func NewAssemblyAIStream(apiKey string) *AssemblyAIStream {
	return &AssemblyAIStream{
		apiKey:    apiKey,
		updates:   make(chan speech.Update, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Connect dials the streaming endpoint and starts the reader and writer
// goroutines. Safe to call twice.
func (s *AssemblyAIStream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return speech.ErrRecognitionUnsupported
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {s.apiKey}})
	if err != nil {
		if resp != nil {
			log.Printf("transcript: connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("transcript: connect: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop()
	go s.writeLoop()

	log.Println("transcript: connected to AssemblyAI streaming")
	return nil
}

// Start marks the microphone active so incoming audio is forwarded. The
// socket is dialed lazily on first use.
func (s *AssemblyAIStream) Start() error {
	if err := s.Connect(); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	return nil
}

// Stop stops forwarding audio without tearing the socket down; the session
// resumes cheaply when listening restarts.
func (s *AssemblyAIStream) Stop() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	return nil
}

// Updates returns the transcript update stream.
func (s *AssemblyAIStream) Updates() <-chan speech.Update { return s.updates }

// FeedPCM16KLE queues one chunk of microphone audio. Chunks arriving while
// the microphone is off are dropped.
func (s *AssemblyAIStream) FeedPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	connected, active := s.connected, s.active
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("transcript: not connected")
	}
	if !active {
		return nil
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audioData <- pcm:
	default:
		log.Println("transcript: audio buffer full, dropping packet")
	}
	return nil
}

// RecentlyDetectedVoice reports whether voice energy was observed within the
// given window. Used by the audio transport to gate barge-in.
func (s *AssemblyAIStream) RecentlyDetectedVoice(window time.Duration) bool {
	s.voiceMu.Lock()
	last := s.lastVoiceTime
	s.voiceMu.Unlock()
	return time.Since(last) <= window
}

// Close terminates the session and closes the update stream.
func (s *AssemblyAIStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.active = false
	s.conn = nil
	close(s.updates)
	log.Println("transcript: connection closed")
	return nil
}

func (s *AssemblyAIStream) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered in readLoop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("transcript: read: %v", err)
			return
		}
		s.processMessage(message)
	}
}

func (s *AssemblyAIStream) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("transcript: bad message: %v", err)
		return
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("transcript: session %s began, expires %s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		select {
		case s.updates <- speech.Update{Text: msg.Transcript, Final: msg.TurnFormatted, At: time.Now()}:
		default:
			// Slow consumer; the next turn carries the full running text
			// anyway.
		}
	case "Termination":
		log.Println("transcript: session terminated by server")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("transcript: server error: %s", msg.Error)
	}
}

func (s *AssemblyAIStream) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered in writeLoop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("transcript: write: %v", err)
				return
			}
		}
	}
}

// detectVoiceActivity computes a coarse RMS over 16-bit little-endian PCM and
// records the last time it crossed the voice floor.
func (s *AssemblyAIStream) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.voiceMu.Lock()
		s.lastVoiceTime = time.Now()
		s.voiceMu.Unlock()
	}
}
