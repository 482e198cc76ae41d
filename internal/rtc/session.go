package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/dialogue"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
	"github.com/codegirlMaya1/shopperAssistant/internal/transcript"
	"github.com/codegirlMaya1/shopperAssistant/internal/tts"
)

// SessionDescription is a small DTO so transport handlers never see webrtc
// types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// uiEvent mirrors dialogue state to the client over the events data channel.
type uiEvent struct {
	Type      string            `json:"type"`
	Filters   *parser.Filters   `json:"filters,omitempty"`
	Displayed []catalog.Product `json:"displayed,omitempty"`
	Cart      []catalog.Product `json:"cart,omitempty"`
}

// Handler builds one dialogue session per WebRTC offer.
type Handler struct {
	AssemblyAIKey string
	DeepgramKey   string
	ElevenLabsKey string
	Parser        dialogue.Parser
	Catalog       *catalog.Catalog
	Recorder      dialogue.CheckoutRecorder
	Greeting      string
	AutoPresent   bool
	ICEServers    []webrtc.ICEServer
}

// HandleOffer accepts an SDP offer, wires a full voice session onto the peer
// connection, and returns the SDP answer.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("rtc: invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	ice := h.ICEServers
	if len(ice) == 0 {
		ice = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "assistant",
	)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	sessionID := uuid.NewString()
	h.attachSession(sessionID, pc, outTrack)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("rtc: no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// sessionState holds the live pieces of one session. OnDataChannel, OnTrack
// and the control channel's OnMessage all fire on pion goroutines, so the
// cross-callback values are atomic pointers.
type sessionState struct {
	id     string
	synth  atomic.Pointer[speech.Synthesizer]
	ctrl   atomic.Pointer[dialogue.Controller]
	events atomic.Pointer[webrtc.DataChannel]
	cart   atomic.Pointer[cart.Cart]
}

func (st *sessionState) sendEvent(ev uiEvent) {
	dc := st.events.Load()
	if dc == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := dc.SendText(string(b)); err != nil {
		log.Printf("[%s] event send: %v", st.id, err)
	}
}

func (st *sessionState) cancelSynth() {
	if sp := st.synth.Load(); sp != nil {
		(*sp).Cancel()
	}
}

// handleControl runs one client command. Commands arriving before the track
// is wired are no-ops.
func (st *sessionState) handleControl(cmd string) {
	switch strings.TrimSpace(strings.ToLower(cmd)) {
	case "stop", "cancel", "barge-in":
		st.cancelSynth()
	case "enable":
		if c := st.ctrl.Load(); c != nil {
			_ = c.EnableVoice(context.Background())
		}
	case "coupon":
		if sc := st.cart.Load(); sc != nil && sc.ApplyWelcomeCoupon() {
			st.sendEvent(uiEvent{Type: "cart", Cart: sc.Items()})
		}
	}
}

// attachSession wires media and dialogue once the remote audio track arrives.
func (h *Handler) attachSession(sessionID string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) {
	stream := transcript.NewAssemblyAIStream(h.AssemblyAIKey)
	st := &sessionState{id: sessionID}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case "events":
			st.events.Store(dc)
		case "control":
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				st.handleControl(string(msg.Data))
			})
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", sessionID, state.String())
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] remote audio track: codec=%s", sessionID, remote.Codec().MimeType)

		paced, err := NewOpusSpeaker(outTrack)
		if err != nil {
			log.Printf("[%s] opus encoder: %v", sessionID, err)
			return
		}
		var synth speech.Synthesizer
		if h.DeepgramKey == "" && h.ElevenLabsKey != "" {
			synth = tts.NewElevenLabsSpeaker(h.ElevenLabsKey, paced)
		} else {
			synth = tts.NewDeepgramSpeaker(h.DeepgramKey, paced)
		}
		st.synth.Store(&synth)

		channel := speech.NewChannel(stream, synth, nil)
		sessionCart := cart.New()
		st.cart.Store(sessionCart)
		ctrl := dialogue.NewController(dialogue.Config{
			Channel: channel,
			Router: &dialogue.Router{
				Parser:      h.Parser,
				Catalog:     h.Catalog,
				Cart:        sessionCart,
				AutoPresent: h.AutoPresent,
			},
			Cart:     sessionCart,
			Recorder: h.Recorder,
			Greeting: h.Greeting,
			Callbacks: dialogue.Callbacks{
				OnFiltersChanged: func(f parser.Filters, displayed []catalog.Product) {
					st.sendEvent(uiEvent{Type: "filters", Filters: &f, Displayed: displayed})
				},
				OnCartChanged: func(items []catalog.Product) {
					st.sendEvent(uiEvent{Type: "cart", Cart: items})
				},
				OnNavigateToCheckout: func() {
					st.sendEvent(uiEvent{Type: "checkout"})
				},
			},
		})
		st.ctrl.Store(ctrl)

		sessCtx, cancelSess := context.WithCancel(context.Background())
		go func() {
			if err := ctrl.Run(sessCtx); err != nil {
				log.Printf("[%s] session ended: %v", sessionID, err)
			}
		}()

		// Voice-energy barge-in: caller speech during synthesis cancels the
		// assistant mid-utterance.
		go func() {
			ticker := time.NewTicker(40 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-sessCtx.Done():
					return
				case <-ticker.C:
					if channel.Speaking() && stream.RecentlyDetectedVoice(150*time.Millisecond) {
						log.Printf("[%s] barge-in: canceling synthesis", sessionID)
						synth.Cancel()
					}
				}
			}
		}()

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			log.Printf("[%s] peer state: %s", sessionID, state.String())
			switch state {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
				cancelSess()
				_ = stream.Close()
				paced.FlushTail()
				time.AfterFunc(400*time.Millisecond, paced.Close)
				_ = pc.Close()
			}
		})

		go h.pumpMicrophone(sessionID, remote, stream)
	})
}

// pumpMicrophone decodes caller Opus packets to 16 kHz PCM and feeds the
// transcription stream in fixed-size chunks.
func (h *Handler) pumpMicrophone(sessionID string, remote *webrtc.TrackRemote, stream *transcript.AssemblyAIStream) {
	const chunkBytes = 3200 // 100ms at 16kHz

	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		log.Printf("[%s] opus decoder: %v", sessionID, err)
		return
	}

	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] rtp read: %v", sessionID, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			continue
		}
		start := len(buf)
		buf = append(buf, make([]byte, n*2)...)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[start+i*2:start+(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			if err := stream.FeedPCM16KLE(buf[:chunkBytes]); err != nil {
				log.Printf("[%s] transcript feed: %v", sessionID, err)
			}
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}
