// Package runnerapi exposes the runner's controller-facing HTTP surface:
// start/approve/message/cancel/end plus a status snapshot and a liveness
// probe. Every handler is a thin translation into internal/session.Supervisor
// calls — the supervisor owns all session state and control-flow.
package runnerapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentrelay/agentrelay/internal/session"
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
		Port:         8081,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the runner's HTTP server.
type Server struct {
	config     Config
	router     *chi.Mux
	httpSrv    *http.Server
	supervisor *session.Supervisor
	registrar  CallbackRegistrar
}

// New creates a Server backed by sv. registrar may be nil if the wired
// session.EventSink serves a single fixed controller address and has no
// per-job callback_url to learn.
func New(cfg Config, sv *session.Supervisor, registrar CallbackRegistrar) *Server {
	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		supervisor: sv,
		registrar:  registrar,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Get("/health", s.handleHealth)

	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/approve", s.handleApprove)
		r.Post("/message", s.handleMessage)
		r.Post("/cancel", s.handleCancel)
		r.Post("/end", s.handleEnd)
		r.Get("/status", s.handleStatus)
	})
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
