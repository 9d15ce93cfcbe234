// Package http provides the HTTP adapter for the application layer. A thin
// translation layer: requests become events and service calls, nothing more.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwhitney-dev/caseflow/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config      ServerConfig
	httpServer  *http.Server
	router      *gin.Engine
	intake      *service.IntakeService
	query       *service.QueryService
	decisions   *service.DecisionService
	engine      service.Transitioner
	liveHandler http.Handler
	logger      Logger
}

// NewServer creates an HTTP server wired to the application services.
// liveHandler, when non-nil, is mounted at /ws for live case updates.
func NewServer(
	config ServerConfig,
	intake *service.IntakeService,
	query *service.QueryService,
	decisions *service.DecisionService,
	engine service.Transitioner,
	liveHandler http.Handler,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:      config,
		router:      gin.New(),
		intake:      intake,
		query:       query,
		decisions:   decisions,
		engine:      engine,
		liveHandler: liveHandler,
		logger:      logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.intake, s.query, s.decisions, s.engine, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	if s.liveHandler != nil {
		s.router.GET("/ws", gin.WrapH(s.liveHandler))
	}

	api := s.router.Group("/api")
	{
		// Cases
		api.POST("/cases", handlers.CreateCase)
		api.GET("/cases", handlers.ListCases)
		api.GET("/cases/:id", handlers.GetCaseDetail)
		api.GET("/cases/:id/ledger", handlers.GetLedger)
		api.GET("/cases/:id/executions", handlers.GetExecutions)
		api.GET("/cases/:id/proposal", handlers.GetPendingProposal)

		// Transitions
		api.POST("/cases/:id/events", handlers.PostEvent)
		api.POST("/cases/:id/proposals/:pid/decision", handlers.PostDecision)

		// Trigger webhooks
		api.POST("/webhooks/messages", handlers.InboundMessage)
		api.POST("/webhooks/portal", handlers.PortalOutcome)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
