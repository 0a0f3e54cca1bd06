// Package api is the HTTP gateway the lower-trust world uses to trap into
// the monitor, move request buffers in and out of non-secure memory, and
// observe the monitor.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/tsmon/internal/auth"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/journal"
)

// Dispatcher is the monitor's trap surface.
type Dispatcher interface {
	Call(c dispatch.Call) dispatch.Result
	Slots() []dispatch.SlotInfo
	CallerPending() bool
	Table() *dispatch.Table
	MaxTimeout() time.Duration
}

// Memory is the non-secure arena request buffers live in.
type Memory interface {
	Read(addr uint64, p []byte) error
	Write(addr uint64, p []byte) error
}

// CallJournal records and lists completed calls.
type CallJournal interface {
	Record(ctx context.Context, e journal.Entry) (string, error)
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// DefaultMaxMemIO bounds a single /mem transfer.
const DefaultMaxMemIO = 64 * 1024

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens   []auth.TokenConfig
	MaxMemIO int
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	memory     Memory
	journal    CallJournal
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time

	// callMu keeps at most one caller inside the monitor.
	callMu sync.Mutex
}

// New creates a new API server instance. journal may be nil.
func New(config Config, dispatcher Dispatcher, memory Memory, journal CallJournal, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxMemIO <= 0 {
		config.MaxMemIO = DefaultMaxMemIO
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		memory:     memory,
		journal:    journal,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// SSE streams stay open; WriteTimeout would cut them.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeSMC)).Post("/smc", s.handleSMC)
		r.With(s.requireScopes(auth.ScopeMemRead, auth.ScopeMemWrite)).Get("/mem/{addr}", s.handleMemRead)
		r.With(s.requireScopes(auth.ScopeMemWrite)).Put("/mem/{addr}", s.handleMemWrite)
		r.With(s.requireScopes(auth.ScopeMonitorRO)).Get("/services", s.handleServices)
		r.With(s.requireScopes(auth.ScopeMonitorRO)).Get("/calls", s.handleListCalls)
		r.With(s.requireScopes(auth.ScopeMonitorRO)).Get("/calls/{callID}", s.handleGetCall)
		r.With(s.requireScopes(auth.ScopeMonitorRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
