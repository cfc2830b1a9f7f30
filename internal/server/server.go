package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/me/gotp/internal/config"
	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/internal/schedfile"
	"github.com/me/gotp/internal/store"
	"github.com/me/gotp/internal/workload"
)

// Server is the GoTP REST API server. It exposes the scheduling core's
// control plane: per-CPU partition schedules, synthetic threads, and the
// event audit trail.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time

	core      *sched.Core
	runner    *workload.Runner
	store     store.Store
	validator *schedfile.Validator
	hub       *eventHub

	limiter   *rate.Limiter
	heartbeat time.Duration
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithHeartbeat overrides the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// New creates a Server with all routes registered. The event hub is
// attached to the core so overruns reach the store and SSE clients.
func New(cfg config.ServerConfig, logger *slog.Logger, core *sched.Core, runner *workload.Runner, st store.Store, opts ...Option) *Server {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		core:      core,
		runner:    runner,
		store:     st,
		validator: schedfile.NewValidator(logger),
		hub:       newEventHub(core, st, logger),
		limiter:   rate.NewLimiter(limit, burst),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	core.AddListener(s.hub)

	s.routes()
	return s
}

// RestoreSchedules reinstalls persisted partition schedules after a
// daemon restart. Per-CPU failures are logged and skipped so one bad
// record cannot block the rest.
func (s *Server) RestoreSchedules(ctx context.Context) error {
	records, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list persisted schedules: %w", err)
	}
	for _, rec := range records {
		if err := s.core.InstallSchedule(rec.CPU, rec.Windows); err != nil {
			s.logger.Error("restore schedule", "cpu", rec.CPU, "error", err)
			continue
		}
		if rec.Started {
			if err := s.core.StartSchedule(rec.CPU); err != nil {
				s.logger.Error("restart schedule", "cpu", rec.CPU, "error", err)
				continue
			}
		}
		s.logger.Info("restored schedule", "cpu", rec.CPU,
			"windows", len(rec.Windows), "started", rec.Started)
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(s.rateLimit)

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Per-CPU schedule control
		r.Route("/cpus", func(r chi.Router) {
			r.Get("/", s.handleListCPUs)
			r.Route("/{cpu}", func(r chi.Router) {
				r.Get("/", s.handleGetCPU)
				r.Put("/schedule", s.handleInstallSchedule)
				r.Get("/schedule", s.handleGetSchedule)
				r.Delete("/schedule", s.handleUninstallSchedule)
				r.Post("/start", s.handleStartSchedule)
				r.Post("/stop", s.handleStopSchedule)
			})
		})

		// Synthetic threads
		r.Route("/threads", func(r chi.Router) {
			r.Get("/", s.handleListThreads)
			r.Post("/", s.handleSpawnThread)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetThread)
				r.Delete("/", s.handleKillThread)
				r.Put("/policy", s.handleSetPolicy)
				r.Post("/migrate", s.handleMigrateThread)
			})
		})

		// Audit trail
		r.Get("/events", s.handleListEvents)

		// SSE endpoints for real-time updates
		r.Route("/sse", func(r chi.Router) {
			r.Get("/events", s.handleSSEEvents)
		})
	})
}
