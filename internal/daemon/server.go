package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/drill/internal/auth"
	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
	"github.com/felixgeelhaar/fortify/ratelimit"
)

// Version is reported by /v1/status
const Version = "0.1.0"

// InstanceReader loads issued instances
type InstanceReader interface {
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
}

// SessionManager creates and reads sessions and assignments
type SessionManager interface {
	CreateAssignment(ctx context.Context, a *domain.Assignment) error
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
	CreateSession(ctx context.Context, sess *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
}

// StatsLister reads aggregated topic statistics
type StatsLister interface {
	List(ctx context.Context) ([]domain.TopicStat, error)
}

// Server represents the drill daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	limiter ratelimit.RateLimiter

	// Services
	generator *exercise.Generator
	issuer    *issuance.Service
	grading   *grading.Controller
	instances InstanceReader
	sessions  SessionManager
	stats     StatsLister
	tokens    *auth.Service
}

// ServerConfig holds the collaborators of a server. Stats is optional.
type ServerConfig struct {
	Config    *config.LocalConfig
	Generator *exercise.Generator
	Issuer    *issuance.Service
	Grading   *grading.Controller
	Instances InstanceReader
	Sessions  SessionManager
	Stats     StatsLister
	Tokens    *auth.Service
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Config == nil:
		return nil, errors.New("config is required")
	case cfg.Generator == nil, cfg.Issuer == nil, cfg.Grading == nil:
		return nil, errors.New("generator, issuer and grading controller are required")
	case cfg.Instances == nil, cfg.Sessions == nil:
		return nil, errors.New("instance and session stores are required")
	case cfg.Tokens == nil:
		return nil, errors.New("token service is required")
	}

	s := &Server{
		cfg:       cfg.Config,
		router:    http.NewServeMux(),
		generator: cfg.Generator,
		issuer:    cfg.Issuer,
		grading:   cfg.Grading,
		instances: cfg.Instances,
		sessions:  cfg.Sessions,
		stats:     cfg.Stats,
		tokens:    cfg.Tokens,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	if rl := cfg.Config.RateLimit; rl.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     rl.RequestsPerSecond,
			Burst:    rl.Burst,
			Interval: time.Second,
		})
		keys := callerKeys{trustProxy: rl.TrustProxy}
		if cfg.Tokens != nil {
			keys.actors = cfg.Tokens
		}
		handler = rateLimitMiddleware(s.limiter, keys, handler)
	}
	handler = recoveryMiddleware(correlationIDMiddleware(loggingMiddleware(handler)))

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Topics & generation
	s.router.HandleFunc("GET /v1/topics", s.handleListTopics)
	s.router.HandleFunc("POST /v1/exercises/generate", s.handleGenerate)

	// Instances
	s.router.HandleFunc("POST /v1/instances", s.handleIssueInstance)
	s.router.HandleFunc("GET /v1/instances/{id}", s.handleGetInstance)
	s.router.HandleFunc("POST /v1/instances/{id}/validate", s.handleValidate)

	// Sessions & assignments
	s.router.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("POST /v1/assignments", s.handleCreateAssignment)
	s.router.HandleFunc("GET /v1/assignments/{id}", s.handleGetAssignment)

	// Tokens & stats
	s.router.HandleFunc("POST /v1/tokens", s.handleIssueToken)
	s.router.HandleFunc("GET /v1/stats", s.handleStats)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	stats := s.generator.Registry().Stats()
	slog.Info("starting drill daemon",
		"addr", s.server.Addr,
		"topics", stats.TopicCount,
		"handlers", stats.HandlerCount,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}

	return s.server.Shutdown(ctx)
}
