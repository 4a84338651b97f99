// Package api is the HTTP front end: job submission, job history, health
// and a server-sent event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/urclgw/internal/dispatch"
	"github.com/mattjoyce/urclgw/internal/engine"
	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/history"
	"github.com/mattjoyce/urclgw/internal/job"
	"github.com/mattjoyce/urclgw/internal/queue"
)

// JobQueue accepts jobs for the dispatcher.
type JobQueue interface {
	Enqueue(j *job.Job) *queue.Ticket
	Depth() int
}

// JobBuilder validates submissions.
type JobBuilder interface {
	Build(sub job.Submission) (*job.Job, error)
}

// HistoryReader looks up finished jobs.
type HistoryReader interface {
	Get(ctx context.Context, id string) (*history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// WorkerStatus reports the dispatcher state.
type WorkerStatus interface {
	State() dispatch.State
}

// EngineStatus reports the engine process state.
type EngineStatus interface {
	State() engine.ProcessState
}

// EventHub is the subset of events.Hub used by the API.
type EventHub interface {
	Publish(eventType string, data any)
	Subscribe() (<-chan events.Event, func())
	Since(lastID int64) []events.Event
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// SyncTimeout bounds POST /jobs?wait=true.
	SyncTimeout       time.Duration
	MaxConcurrentSync int
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// Deps are the components the server reads from and writes to.
type Deps struct {
	Queue   JobQueue
	Builder JobBuilder
	History HistoryReader
	Worker  WorkerStatus
	Engine  EngineStatus
	Events  EventHub
}

// Server is the HTTP API server.
type Server struct {
	config        Config
	deps          Deps
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates a new API server instance.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 10
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 2 * time.Minute
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Server{
		config:        config,
		deps:          deps,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Synchronous submissions hold the response open.
		WriteTimeout: s.config.SyncTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
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
			// Waiting submitters still hold connections; cut them off.
			s.logger.Warn("API server did not drain in time, closing", "error", err)
			_ = s.server.Close()
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/events", s.handleEvents)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleListJobs)
		r.Get("/{jobID}", s.handleGetJob)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
