// Package httpserver exposes the assistant over HTTP: a product feed for the
// storefront page, a WebSocket session for browser speech, a WebRTC offer
// endpoint for raw-audio clients, and the telephony webhooks.
package httpserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/codegirlMaya1/shopperAssistant/internal/cart"
	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/dialogue"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
	"github.com/codegirlMaya1/shopperAssistant/internal/phone"
	"github.com/codegirlMaya1/shopperAssistant/internal/rtc"
	"github.com/codegirlMaya1/shopperAssistant/internal/speech"
	"github.com/codegirlMaya1/shopperAssistant/internal/wsbridge"
)

// Config carries the assembled dependencies. Nil optional pieces disable
// their routes.
type Config struct {
	Catalog  *catalog.Catalog
	Parser   dialogue.Parser
	Recorder dialogue.CheckoutRecorder
	RTC      *rtc.Handler
	Phone    *phone.Service

	VoicePrefs   []string
	Greeting     string
	AutoPresent  bool
	AuthPassword string
}

// Server bundles the echo router and its dependencies.
type Server struct {
	cfg Config
	e   *echo.Echo
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New constructs the HTTP server with routes.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/products", s.handleProducts)
	e.GET("/session", s.handleSession)
	if cfg.RTC != nil {
		e.POST("/call", s.handleCall)
	}
	if cfg.Phone != nil {
		cfg.Phone.RegisterHandlers(e)
	}

	s.e = e
	return s
}

// Router exposes the handler for mounting and tests.
func (s *Server) Router() http.Handler { return s.e }

func (s *Server) handleProducts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Catalog.Products())
}

func (s *Server) handleCall(c echo.Context) error {
	if !authOK(c.Request(), s.cfg.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		log.Printf("httpserver: invalid offer: %v", err)
		return c.String(http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.cfg.RTC.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		log.Printf("httpserver: handle offer failed: %v", err)
		return c.String(http.StatusInternalServerError, "offer failed")
	}
	return c.JSON(http.StatusOK, answer)
}

// uiEvent mirrors dialogue state to the storefront page.
type uiEvent struct {
	Type      string            `json:"type"`
	Filters   *parser.Filters   `json:"filters,omitempty"`
	Displayed []catalog.Product `json:"displayed,omitempty"`
	Cart      []catalog.Product `json:"cart,omitempty"`
}

// handleSession upgrades to a WebSocket and runs one dialogue session over
// it. The page does recognition and playback; this side does everything else.
func (s *Server) handleSession(c echo.Context) error {
	if !authOK(c.Request(), s.cfg.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("httpserver: ws upgrade: %v", err)
		return nil
	}

	bridge := wsbridge.NewBridge(conn)
	channel := speech.NewChannel(bridge, bridge, s.cfg.VoicePrefs)
	sessionCart := cart.New()

	ctrl := dialogue.NewController(dialogue.Config{
		Channel: channel,
		Router: &dialogue.Router{
			Parser:      s.cfg.Parser,
			Catalog:     s.cfg.Catalog,
			Cart:        sessionCart,
			AutoPresent: s.cfg.AutoPresent,
		},
		Cart:     sessionCart,
		Recorder: s.cfg.Recorder,
		Greeting: s.cfg.Greeting,
		Callbacks: dialogue.Callbacks{
			OnFiltersChanged: func(f parser.Filters, displayed []catalog.Product) {
				_ = bridge.PushUI(uiEvent{Type: "filters", Filters: &f, Displayed: displayed})
			},
			OnCartChanged: func(items []catalog.Product) {
				_ = bridge.PushUI(uiEvent{Type: "cart", Cart: items})
			},
			OnNavigateToCheckout: func() {
				_ = bridge.PushUI(uiEvent{Type: "checkout"})
			},
		},
	})
	bridge.OnCoupon(func() {
		if sessionCart.ApplyWelcomeCoupon() {
			_ = bridge.PushUI(uiEvent{Type: "cart", Cart: sessionCart.Items()})
		}
	})
	bridge.OnEnable(func() {
		if err := ctrl.EnableVoice(c.Request().Context()); err != nil {
			log.Printf("httpserver: enable voice: %v", err)
		}
	})

	go bridge.ReadLoop()
	if err := ctrl.Run(c.Request().Context()); err != nil {
		log.Printf("httpserver: session ended: %v", err)
	}
	return nil
}

// authOK accepts the request when no password is configured, or when the
// shared secret arrives as ?password=, X-Auth-Token, or a bearer token.
func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if r.URL.Query().Get("password") == expected {
		return true
	}
	if r.Header.Get("X-Auth-Token") == expected {
		return true
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") && auth[7:] == expected {
		return true
	}
	return false
}
