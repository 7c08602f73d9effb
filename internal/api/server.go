package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mattjoyce/edgeclaw/internal/chat"
	"github.com/mattjoyce/edgeclaw/internal/events"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/metrics"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

// Completer answers chat completions.
type Completer interface {
	Complete(ctx context.Context, req chat.Request) (*chat.Completion, error)
}

// PluginRegistry exposes the live plugin snapshot and rebuilds it on demand.
type PluginRegistry interface {
	Snapshot() *plugin.Snapshot
	Reload() (*plugin.Snapshot, error)
}

// InferenceStatus reports the worker's state for readiness and /v1/models.
type InferenceStatus interface {
	Ready() bool
	ModelName() string
	QueueDepth() int
	QueueCapacity() int
}

// Pinger checks the conversation store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HostProbe samples device resources.
type HostProbe interface {
	Sample(ctx context.Context) (health.Host, error)
}

// Auditor appends to the audit log.
type Auditor interface {
	LogAudit(ctx context.Context, eventType string, payload any) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey guards admin routes and, when presented, chat. Empty disables admin routes.
	APIKey       string
	CORSOrigins  []string
	MaxBodyBytes int64
	Version      string
	// DeviceID is the hex public key of the device identity.
	DeviceID string
}

// Deps are the components the server fronts. Store, Host, Auditor, and Metrics may be nil.
type Deps struct {
	Chat      Completer
	Registry  PluginRegistry
	Inference InferenceStatus
	Store     Pinger
	Host      HostProbe
	Auditor   Auditor
	Events    *events.Hub
	Metrics   *metrics.Metrics
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Inference can wait behind a full queue; SSE streams stay open.
		WriteTimeout: 10 * time.Minute,
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
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	// Unauthenticated ops endpoints.
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Get("/plugins", s.handleListPlugins)
		r.With(s.optionalAuthMiddleware, middleware.RequestSize(s.config.MaxBodyBytes)).
			Post("/chat/completions", s.handleChatCompletions)

		// Admin.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/plugins/reload", s.handleReloadPlugins)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
		if s.deps.Metrics != nil {
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			s.deps.Metrics.ObserveHTTP(route, status)
		}
	})
}
