// Package controllerapi implements both halves of the controller's side of
// the Callback/RPC Plane: the HTTP server that receives runner events on
// POST /events (the runner -> controller direction), and the HTTP client the
// controller's Job Queue and Approval Broker use to call the runner's own
// API (the controller -> runner direction).
package controllerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/logging"
)

// Config holds server configuration.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:         8001,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// EventProcessor reacts to one runner event by mutating durable job state
// and notifying the queue/broker/chat layers as needed. Handler errors are
// logged, never surfaced to the runner: per spec §4.6, a processing failure
// must not induce the runner to retry pointlessly, since at-least-once
// delivery is upheld on the transport side, not the effect side.
type EventProcessor interface {
	Process(ctx context.Context, env eventproto.Envelope) error
}

// Server is the controller's runner-facing HTTP server.
type Server struct {
	config    Config
	router    *chi.Mux
	httpSrv   *http.Server
	processor EventProcessor
}

// New creates a Server that dispatches every received envelope to processor.
func New(cfg Config, processor EventProcessor) *Server {
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		processor: processor,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/events", s.handleEvents)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "controller"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}

	var env eventproto.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if s.processor != nil {
		if err := s.processor.Process(r.Context(), env); err != nil {
			logging.Warn().Err(err).
				Str("job_id", env.JobID).
				Str("event_type", string(env.EventType)).
				Msg("controllerapi: event processing failed")
		}
	}

	// Always 200: the handler's own failure is never the runner's problem.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving on the configured port.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
