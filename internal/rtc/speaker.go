// Package rtc serves voice sessions over WebRTC: caller audio in, assistant
// audio out, with the dialogue controller in between.
package rtc

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	frameSamples  = 960 // 20ms at 48kHz mono
	frameInterval = 20 * time.Millisecond
)

// sampleWriter is the slice of a WebRTC local track the speaker needs.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// OpusSpeaker encodes 48 kHz mono PCM into 20ms Opus frames and writes them
// to a WebRTC track at real-time pace. It is the playback sink behind the
// text-to-speech engine.
type OpusSpeaker struct {
	enc   *opus.Encoder
	track sampleWriter

	mu     sync.Mutex
	pcm    []int16
	frames chan []byte
	stopCh chan struct{}
	once   sync.Once
}

// NewOpusSpeaker starts the pacer for the given track.
func NewOpusSpeaker(track sampleWriter) (*OpusSpeaker, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	s := &OpusSpeaker{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
	go s.pace()
	return s, nil
}

// WritePCM buffers little-endian PCM bytes and emits every complete frame.
func (s *OpusSpeaker) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(pcmBytes); i += 2 {
		s.pcm = append(s.pcm, int16(uint16(pcmBytes[i])|uint16(pcmBytes[i+1])<<8))
	}
	s.encodeFullFrames()
}

// FlushTail zero-pads the last partial frame and appends a short silence tail
// so the end of the utterance is not clipped by the jitter buffer.
func (s *OpusSpeaker) FlushTail() {
	s.mu.Lock()
	if len(s.pcm) > 0 {
		pad := make([]int16, frameSamples)
		copy(pad, s.pcm)
		s.encodeFrame(pad)
		s.pcm = s.pcm[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < 10; i++ {
		s.encodeFrame(silence)
	}
	s.mu.Unlock()
}

// Reset drops buffered PCM and queued frames so cancellation is heard
// immediately.
func (s *OpusSpeaker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = s.pcm[:0]
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// Close stops the pacer.
func (s *OpusSpeaker) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

// encodeFullFrames encodes while at least one full frame is buffered. Caller
// holds the lock.
func (s *OpusSpeaker) encodeFullFrames() {
	for len(s.pcm) >= frameSamples {
		s.encodeFrame(s.pcm[:frameSamples])
		copy(s.pcm, s.pcm[frameSamples:])
		s.pcm = s.pcm[:len(s.pcm)-frameSamples]
	}
}

func (s *OpusSpeaker) encodeFrame(frame []int16) {
	buf := make([]byte, 4000)
	n, err := s.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return
	}
	pkt := make([]byte, n)
	copy(pkt, buf[:n])
	select {
	case <-s.stopCh:
	case s.frames <- pkt:
	}
}

func (s *OpusSpeaker) pace() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-s.frames:
				_ = s.track.WriteSample(media.Sample{Data: frame, Duration: frameInterval})
			default:
			}
		}
	}
}
