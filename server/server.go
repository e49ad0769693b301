// Package server exposes a Session over a WebSocket.
//
// Each text frame on /ws is a core.TurnInput encoded as JSON and is answered
// with the matching core.TurnResult. Turns from all connections are
// serialized into the one Session. /health reports liveness and store
// counters, /metrics serves Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/metrics"
	"github.com/deskpet/memcore/session"
)

const (
	maxMessageSize  = 64 << 10
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ErrorMessage is sent instead of a TurnResult when a frame cannot be
// processed.
type ErrorMessage struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Health is the /health response body.
type Health struct {
	Status    string       `json:"status"`
	SessionID string       `json:"session_id"`
	Mode      memory.Mode  `json:"mode"`
	Stats     memory.Stats `json:"stats"`
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: logging.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins accepts WebSocket upgrades from these origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.origins[o] = struct{}{}
		}
	}
}

// Server serves one Session to any number of connections.
type Server struct {
	mu      sync.Mutex
	session *session.Session

	origins  map[string]struct{}
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Server for sess.
func New(sess *session.Session, opts ...Option) *Server {
	s := &Server{
		session: sess,
		origins: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.With("component", "server")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "http server shutdown failed")
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := s.origins[origin]
	if !ok {
		s.logger.Warn("rejected websocket origin", "origin", origin)
	}
	return ok
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	h := Health{
		Status:    "ok",
		SessionID: s.session.ID(),
		Mode:      s.session.Mode(),
		Stats:     s.session.Stats(),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Warn("failed to write health response", "error", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	logger := s.logger.With("conn_id", uuid.NewString(), "remote", r.RemoteAddr)
	logger.Info("websocket connected")
	ctx := logging.With(r.Context(), logger)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			} else {
				logger.Info("websocket closed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			if !s.write(conn, logger, ErrorMessage{Error: "only text frames are supported"}) {
				return
			}
			continue
		}

		var in core.TurnInput
		if err := json.Unmarshal(data, &in); err != nil {
			if !s.write(conn, logger, ErrorMessage{Error: "invalid turn input"}) {
				return
			}
			continue
		}

		if !s.write(conn, logger, s.turn(ctx, in)) {
			return
		}
	}
}

func (s *Server) turn(ctx context.Context, in core.TurnInput) *core.TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.session.ProcessTurn(ctx, in.Utterance)
	res.RequestID = in.RequestID
	logging.From(ctx).Debug("turn processed",
		"request_id", in.RequestID,
		"action", res.MemoryAction,
		"memories", len(res.RelevantMemories),
	)
	return res
}

func (s *Server) write(conn *websocket.Conn, logger *slog.Logger, v any) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		logger.Warn("failed to set write deadline", "error", err)
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}
