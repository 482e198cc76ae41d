// Package phone serves the shopping dialogue over a Twilio voice call. The
// carrier does speech-to-text and playback, so each webhook turn arrives
// already finalized and the reply goes back as TwiML.
package phone

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/dialogue"
)

// sessionTTL is how long an idle call session is kept before pruning.
const sessionTTL = 30 * time.Minute

// Service handles the Twilio webhook flow. One session per CallSid, each with
// its own cart, context and confirmation state.
type Service struct {
	authToken   string
	parser      dialogue.Parser
	catalog     *catalog.Catalog
	recorder    dialogue.CheckoutRecorder
	greeting    string
	autoPresent bool

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	router    *dialogue.Router
	cart      *cart.Cart
	confirmer *dialogue.Confirmer
	dctx      dialogue.Context
	lastSeen  time.Time
}

// Config wires the phone service.
type Config struct {
	AuthToken   string
	Parser      dialogue.Parser
	Catalog     *catalog.Catalog
	Recorder    dialogue.CheckoutRecorder
	Greeting    string
	AutoPresent bool
}

// New builds the phone service.
func New(cfg Config) *Service {
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = dialogue.DefaultGreeting
	}
	return &Service{
		authToken:   cfg.AuthToken,
		parser:      cfg.Parser,
		catalog:     cfg.Catalog,
		recorder:    cfg.Recorder,
		greeting:    greeting,
		autoPresent: cfg.AutoPresent,
		sessions:    make(map[string]*session),
	}
}

// RegisterHandlers mounts the webhook routes.
func (s *Service) RegisterHandlers(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.POST("/twilio/gather", s.handleGather, s.authMiddleware)
}

// handleVoice answers a new call: greeting plus the first speech gather.
func (s *Service) handleVoice(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	log.Printf("phone: call from %s, sid=%s", params["From"], callSID)

	s.session(callSID)
	return s.respond(c, []string{s.greeting}, true)
}

// handleGather resolves one spoken turn and replies with the next prompt.
func (s *Service) handleGather(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	text := strings.TrimSpace(params["SpeechResult"])

	if text == "" {
		return s.respond(c, []string{"I didn't hear anything. What are you looking for?"}, true)
	}
	log.Printf("phone: [%s] heard %q", callSID, text)

	sess := s.session(callSID)
	replies, done := s.resolve(c.Request().Context(), sess, text)
	if done {
		s.drop(callSID)
	}
	return s.respond(c, replies, !done)
}

// resolve runs one dialogue turn for a call session. done means the call
// should end after the replies are spoken.
func (s *Service) resolve(ctx context.Context, sess *session, text string) (replies []string, done bool) {
	if p, awaiting := sess.confirmer.Pending(); awaiting {
		switch dialogue.Classify(text) {
		case dialogue.DecisionYes:
			sess.confirmer.Clear()
			sess.cart.Add(p)
			return []string{fmt.Sprintf("Added %s to your cart. Anything else?", p.Title)}, false
		case dialogue.DecisionNo:
			sess.confirmer.Clear()
			return []string{"No problem. What else can I help you find?"}, false
		case dialogue.DecisionContinue:
			sess.confirmer.Clear()
			return []string{"Sure, let's keep shopping. What are you looking for?"}, false
		case dialogue.DecisionCheckout:
			sess.confirmer.Clear()
			return s.checkout(ctx, sess), true
		}
		// fall through to the router, pending product stays pending
	}

	// No checkout button on a call, so let the keyword end the session once
	// something is actually in the cart.
	if sess.cart.Len() > 0 && dialogue.Classify(text) == dialogue.DecisionCheckout {
		return s.checkout(ctx, sess), true
	}

	out := sess.router.Route(ctx, text, sess.dctx)
	sess.dctx = out.Context
	replies = []string{out.Reply}
	if out.Present != nil {
		sess.confirmer.Present(*out.Present)
		replies = append(replies,
			fmt.Sprintf("%s, priced at $%.2f.", out.Present.Title, out.Present.Price),
			"Would you like to add it to your cart?",
		)
	}
	return replies, false
}

func (s *Service) checkout(ctx context.Context, sess *session) []string {
	summary := sess.cart.Summary()
	if s.recorder != nil && sess.cart.Len() > 0 {
		code, err := s.recorder.RecordCheckout(ctx, sess.cart.Items(), sess.cart.Total())
		if err != nil {
			log.Printf("phone: checkout record failed: %v", err)
		} else {
			summary = fmt.Sprintf("%s Your confirmation code is %s.", summary, code)
		}
	}
	return []string{summary, "Thanks for shopping with us. Goodbye!"}
}

// respond renders the replies as TwiML, with a follow-up speech gather unless
// the call is over.
func (s *Service) respond(c echo.Context, replies []string, gather bool) error {
	says := make([]twiml.Element, 0, len(replies))
	for _, r := range replies {
		says = append(says, &twiml.VoiceSay{Message: r})
	}

	var elements []twiml.Element
	if gather {
		elements = []twiml.Element{&twiml.VoiceGather{
			Input:         "speech",
			Action:        "/twilio/gather",
			Method:        "POST",
			SpeechTimeout: "auto",
			InnerElements: says,
		}}
	} else {
		elements = append(says, &twiml.VoiceHangup{})
	}

	doc, err := twiml.Voice(elements)
	if err != nil {
		return c.String(http.StatusInternalServerError, "twiml render failed")
	}
	return c.XMLBlob(http.StatusOK, []byte(doc))
}

// session returns the call's session, creating it if needed and pruning idle
// ones along the way.
func (s *Service) session(callSID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for sid, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > sessionTTL {
			delete(s.sessions, sid)
		}
	}

	sess, ok := s.sessions[callSID]
	if !ok {
		sessionCart := cart.New()
		sess = &session{
			router: &dialogue.Router{
				Parser:      s.parser,
				Catalog:     s.catalog,
				Cart:        sessionCart,
				AutoPresent: s.autoPresent,
			},
			cart:      sessionCart,
			confirmer: &dialogue.Confirmer{},
		}
		s.sessions[callSID] = sess
	}
	sess.lastSeen = now
	return sess
}

func (s *Service) drop(callSID string) {
	s.mu.Lock()
	delete(s.sessions, callSID)
	s.mu.Unlock()
}

// authMiddleware verifies the Twilio webhook signature and stashes the form
// parameters for the handler.
func (s *Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.authToken == "" {
			return c.String(http.StatusInternalServerError, "Missing TWILIO_AUTH_TOKEN")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to read body")
		}
		formData, err := url.ParseQuery(string(body))
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to parse form")
		}
		params := make(map[string]string)
		for key, values := range formData {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		signature := c.Request().Header.Get("X-Twilio-Signature")
		requestURL := buildURL(c.Request(), c.Request().URL.Path)
		if !validateSignature(s.authToken, signature, requestURL, params) {
			return c.String(http.StatusUnauthorized, "Invalid signature")
		}

		c.Set("twilioParams", params)
		return next(c)
	}
}

func validateSignature(authToken, signature, url string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	data := url
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func buildURL(r *http.Request, path string) string {
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}
