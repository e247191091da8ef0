package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cognicity-rem/internal/config"
	"cognicity-rem/internal/server"
)

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	logger *slog.Logger

	health *server.HealthChecker

	// Handlers
	floodHandler *FloodHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config       *config.ServerConfig
	Logger       *slog.Logger
	Health       *server.HealthChecker
	FloodHandler *FloodHandler
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	// Create Fiber app with optimized settings for high throughput
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable strict routing for consistency
		StrictRouting: true,
		// Case sensitive routing
		CaseSensitive: true,
		// Read timeout from config
		ReadTimeout: deps.Config.ReadTimeout,
		// Write timeout from config
		WriteTimeout: deps.Config.WriteTimeout,
		// Idle timeout from config
		IdleTimeout: deps.Config.IdleTimeout,
		// Custom error handler
		ErrorHandler: customErrorHandler,
	})

	s := &Server{
		app:          app,
		config:       deps.Config,
		logger:       deps.Logger,
		health:       deps.Health,
		floodHandler: deps.FloodHandler,
	}

	// Register middleware
	s.registerMiddleware()

	// Register routes
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	// Recovery middleware to handle panics
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware for tracing
	s.app.Use(requestid.New())

	// Logger middleware for request logging
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Health check endpoint (outside versioned API)
	s.app.Get("/healthz", s.healthCheck)

	// Prometheus metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.app.Group("/v1")
	rem := v1.Group("/rem")

	rem.Get("/counts", s.floodHandler.Counts)
	rem.Get("/states", s.floodHandler.States)
	rem.Get("/dims", s.floodHandler.Dims)

	// Flooded areas and their CAP alerts
	rem.Get("/flooded", s.floodHandler.Flooded)
	rem.Get("/flooded/:id/cap", s.floodHandler.AreaAlert)
	rem.Put("/flooded/:id", s.floodHandler.SetState)
}

// healthCheck returns the health status of the service.
// Backend failures respond 503 with the failing checks.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	if s.health == nil {
		return Success(c, map[string]string{
			"status": server.StatusHealthy,
		})
	}

	resp := s.health.Check(c.Context())
	if !resp.Healthy() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(APIResponse{
			Success: false,
			Data:    resp,
			Error: &APIError{
				Code:    ErrCodeUnavailable,
				Message: "backend unavailable",
			},
		})
	}
	return Success(c, resp)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Test runs a request against the app without a listener.
// A timeout of -1 disables the deadline.
func (s *Server) Test(req *http.Request, timeout ...int) (*http.Response, error) {
	return s.app.Test(req, timeout...)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		return Error(c, e.Code, ErrCodeInternalError, e.Message)
	}

	// Default to internal server error
	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}
