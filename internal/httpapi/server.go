// Package httpapi exposes Voxloop's HTTP surface: the Twilio voice webhook
// and media-stream websocket, the browser audio websocket, health probes,
// and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop/voxloop/internal/bridge"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/voiceio"
)

// WebSessionFunc runs one browser call over the given handler. It blocks
// until the session ends.
type WebSessionFunc func(ctx context.Context, h voiceio.Handler, sessionID string) error

// Config carries the server's construction parameters.
type Config struct {
	AppName string
	Version string

	// PublicHost is the externally reachable host for webhook stream URLs.
	// When empty, the X-Forwarded-Host header and then the request Host
	// header are used, so deployments behind a proxy work unconfigured.
	PublicHost string

	Bridge     *bridge.Bridge
	Health     *health.Handler
	WebSession WebSessionFunc
}

// Server is the HTTP front of the application.
type Server struct {
	cfg    Config
	router chi.Router
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/", s.handleBanner)
	r.Get("/health", cfg.Health.Health)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/twilio/voice", s.handleTwilioVoice)
	r.Get("/ws/twilio/{callSid}", s.handleTwilioStream)
	r.Get("/ws/audio", s.handleBrowserAudio)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"app":     s.cfg.AppName,
		"version": s.cfg.Version,
	})
}

// handleTwilioVoice answers Twilio's inbound-call webhook with TwiML that
// connects the call to our media-stream websocket.
func (s *Server) handleTwilioVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSid := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	if callSid == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Header.Get("X-Forwarded-Host")
	}
	if host == "" {
		host = r.Host
	}

	twiml, err := ConnectStreamTwiML(host, callSid, from)
	if err != nil {
		slog.Error("twiml render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("inbound call webhook", "call_sid", callSid, "from", from)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(twiml)
}

// handleTwilioStream upgrades the media-stream websocket and hands the call
// to the bridge.
func (s *Server) handleTwilioStream(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Twilio does not send an Origin header browsers would.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("twilio websocket accept failed", "call_sid", callSid, "error", err)
		return
	}
	defer conn.CloseNow()

	if err := s.cfg.Bridge.HandleCall(r.Context(), conn, callSid, ""); err != nil {
		slog.Error("call failed", "call_sid", callSid, "error", err)
		conn.Close(websocket.StatusInternalError, "call failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "call ended")
}

// handleBrowserAudio runs a browser call over the JSON websocket protocol.
func (s *Server) handleBrowserAudio(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebSession == nil {
		http.Error(w, "web sessions disabled", http.StatusNotImplemented)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("browser websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sessionID := uuid.NewString()
	h := voiceio.NewWSHandler(r.Context(), sessionID, conn)
	defer h.Close()

	if err := s.cfg.WebSession(r.Context(), h, sessionID); err != nil {
		slog.Error("web session failed", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}
