// Package httpserver provides the HTTP REST API of the recontact service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/database"
	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/eventbus"
	"github.com/healthmetrix/recontact-service/internal/message"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/request"
)

// MessageService is the message lifecycle used by the handlers.
type MessageService interface {
	ChangeState(ctx context.Context, id uuid.UUID, citizenID string, target domain.MessageState) (*domain.Message, bool, error)
	ListByCitizenAndState(ctx context.Context, citizenID string, state *domain.MessageState) ([]*domain.Message, error)
	DeliverAll(ctx context.Context, citizenID string, state *domain.MessageState) ([]message.ChangeResult, error)
	ChangeStates(ctx context.Context, citizenID string, changes []message.StateChange) message.BulkResult
	Create(ctx context.Context, in message.CreateInput) (*domain.Message, error)
}

// RequestService is the request lifecycle used by the handlers.
type RequestService interface {
	CreateFromRemote(ctx context.Context, in request.CreateInput) (*domain.Request, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Request, error)
	GenerateReport(ctx context.Context, limit int) (*request.Report, error)
}

// HealthChecker reports database health. It is satisfied by *database.DB.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	messages   MessageService
	requests   RequestService
	publisher  eventbus.Publisher
	health     HealthChecker
	validate   *validator.Validate
	cfg        Config
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// DebugEndpoints mounts the /v1/debug routes.
	DebugEndpoints bool
	// ReportLimit caps the number of requests in GET /v1/reports.
	ReportLimit int
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	messages MessageService,
	requests RequestService,
	publisher eventbus.Publisher,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	if cfg.ReportLimit <= 0 {
		cfg.ReportLimit = request.DefaultReportLimit
	}

	s := &Server{
		messages:  messages,
		requests:  requests,
		publisher: publisher,
		health:    health,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		logger:    observability.WithComponent(logger, "http-server"),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", s.createRequest)
		r.Get("/request/{requestID}", s.getRequest)
		r.Delete("/request/{requestID}", s.cancelRequest)
		r.Get("/reports", s.generateReport)
		r.Post("/jira/issue/{issueID}", s.processJiraEvent)

		r.Group(func(r chi.Router) {
			r.Use(citizenMiddleware)

			r.Get("/messages", s.listMessages)
			r.Post("/messages", s.updateMessages)
			r.Get("/message/{messageID}", s.getMessage)
			r.Post("/message/{messageID}", s.updateMessage)
		})

		if s.cfg.DebugEndpoints {
			r.Route("/debug", func(r chi.Router) {
				r.Post("/messages", s.debugCreateMessage)
				r.Get("/messages", s.debugListMessages)
			})
		}
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports whether the service can take traffic.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, infoResponse{Message: message})
}
