package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MemoryBrowser is the part of the memory store exposed for inspection.
type MemoryBrowser interface {
	ListWorking(ctx context.Context, limit int) ([]domain.WorkingEntry, error)
	ListEpisodic(ctx context.Context, limit int) ([]domain.EpisodicRecord, error)
	ListSemantic(ctx context.Context, limit int) ([]domain.SemanticRecord, error)
	Delete(ctx context.Context, kind domain.MemoryKind, id int64) (bool, error)
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	memory       MemoryBrowser
	events       ports.EventBus
	checks       map[string]ports.HealthCheck
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Memory       MemoryBrowser
	Events       ports.EventBus
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Checks are reported by /health, keyed by component name.
	Checks map[string]ports.HealthCheck
	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		memory:       cfg.Memory,
		events:       cfg.Events,
		checks:       cfg.Checks,
		logger:       logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	s.router.POST("/process", s.handleProcess)

	s.router.GET("/runs", s.handleListRuns)
	s.router.GET("/runs/:id", s.handleGetRun)
	s.router.POST("/runs/:id/cancel", s.handleCancelRun)

	s.router.GET("/memories", s.handleListMemories)
	s.router.DELETE("/memories/:type/:id", s.handleDeleteMemory)

	s.router.GET("/events", s.handleListEvents)
	s.router.DELETE("/events", s.handleClearEvents)
}

// SetupWebSocket adds the event stream handler at /ws.
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleStream(*gin.Context)
	}); ok {
		s.router.GET("/ws", wsHandler.HandleStream)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
