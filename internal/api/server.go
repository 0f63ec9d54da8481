// Package api exposes the interview assistant over HTTP.
//
// Routes:
//
//	POST /sessions           start a session under a fresh id
//	POST /analyze            analyze one answer, respond with the structured critique
//	POST /reset              clear a session's conversation history
//	GET  /ws/transcription   transcript relay (WebSocket)
//	GET  /healthz, /readyz   liveness and readiness
//	GET  /metrics            Prometheus scrape endpoint
//
// Every route runs behind [observe.Middleware] and the CORS middleware.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/intervue/internal/analysis"
	"github.com/MrWong99/intervue/internal/health"
	"github.com/MrWong99/intervue/internal/observe"
	"github.com/MrWong99/intervue/internal/session"
)

// SessionHeader carries the session id when the request body does not.
const SessionHeader = observe.SessionHeader

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Error messages returned in the "error" field of 400 responses.
const (
	msgNoText      = "No text provided"
	msgInvalidJSON = "Invalid JSON body"
)

// Option configures a [Server].
type Option func(*Server)

// WithRelay mounts the transcript relay at /ws/transcription.
func WithRelay(h http.Handler) Option {
	return func(s *Server) { s.relay = h }
}

// WithHealth mounts the liveness and readiness endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORS replaces the CORS settings. Default: [DefaultCORSConfig].
func WithCORS(cfg CORSConfig) Option {
	return func(s *Server) { s.cors = cfg }
}

// Server routes HTTP requests to the session manager and the relay.
type Server struct {
	sessions       *session.Manager
	relay          http.Handler
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	cors           CORSConfig
}

// New creates a Server answering analysis requests from sessions.
func New(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		cors:     DefaultCORSConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleNewSession)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /reset", s.handleReset)
	if s.relay != nil {
		mux.Handle("GET /ws/transcription", s.relay)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(CORS(s.cors)(mux))
}

type analyzeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Contract  string `json:"contract"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(uuid.NewString())
	observe.Logger(observe.WithSessionID(r.Context(), sess.ID())).Info("session started")
	w.Header().Set(SessionHeader, sess.ID())
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID(), Contract: sess.Contract().Name})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	sess := s.sessions.Get(sessionID(r, req.SessionID))
	res, err := sess.Analyze(r.Context(), req.Text)
	if errors.Is(err, analysis.ErrEmptyInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoText})
		return
	}
	if err != nil {
		observe.Logger(observe.WithSessionID(r.Context(), sess.ID())).Error("analysis failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set(SessionHeader, sess.ID())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one, chunked or not, reads as io.EOF.
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}
	id := session.NormalizeID(sessionID(r, req.SessionID))
	status := s.sessions.Reset(id)
	observe.Logger(observe.WithSessionID(r.Context(), id)).Info("conversation reset")
	w.Header().Set(SessionHeader, id)
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

// sessionID prefers the id from the body and falls back to [SessionHeader].
func sessionID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(SessionHeader)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
