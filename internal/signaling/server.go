package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/relay"
)

// Config wires together the runtime dependencies for the WebSocket surface.
type Config struct {
	Engine *relay.Engine

	// Origin decides which browser origins may open a connection. A nil policy
	// allows same-host origins only.
	Origin *origin.Policy

	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration

	Logger *slog.Logger
}

// Server upgrades HTTP requests to WebSocket and runs each connection through
// the relay engine.
//
// Endpoints:
//   - GET /, /ws, /ws/ : WebSocket relay
//   - GET /stats       : room and client counts
type Server struct {
	cfg      Config
	engine   *relay.Engine
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.Engine == nil {
		cfg.Engine = relay.NewEngine(relay.DefaultConfig(), nil, nil, cfg.Logger)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxMessageBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultWSIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWSWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:     cfg,
		engine:  cfg.Engine,
		metrics: cfg.Engine.Metrics(),
		log:     logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
		Error:       s.upgradeError,
	}
	return s
}

func (s *Server) Engine() *relay.Engine { return s.engine }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleWebSocket)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /ws/", s.handleWebSocket)
	mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.Origin.CheckOrigin(r) {
		return true
	}
	s.metrics.Inc(metrics.OriginRejected)
	s.log.Warn("origin_rejected", "origin", r.Header.Get("Origin"), "host", r.Host, "remote_addr", r.RemoteAddr)
	return false
}

func (s *Server) upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if status != http.StatusForbidden {
		s.metrics.Inc(metrics.UpgradeFailed)
		s.log.Debug("upgrade_failed", "status", status, "err", reason, "remote_addr", r.RemoteAddr)
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		// Plain GET / from a browser or load balancer.
		s.metrics.Inc(metrics.UpgradeFailed)
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := newWSChannel(conn, wsChannelConfig{
		MaxMessageBytes: s.cfg.MaxMessageBytes,
		IdleTimeout:     s.cfg.IdleTimeout,
		PingInterval:    s.cfg.PingInterval,
		WriteTimeout:    s.cfg.WriteTimeout,
		Metrics:         s.metrics,
	})

	err = s.engine.Serve(r.Context(), ch)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrTooManyConnections):
		s.log.Warn("connection_rejected", "reason", err.Error(), "remote_addr", r.RemoteAddr)
	default:
		s.log.Debug("connection_ended", "err", err, "remote_addr", r.RemoteAddr)
	}
}

type statsResponse struct {
	Rooms       int `json:"rooms"`
	Clients     int `json:"clients"`
	Connections int `json:"connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.engine.Registry().Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Rooms:       rooms,
		Clients:     clients,
		Connections: s.engine.ActiveConnections(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
