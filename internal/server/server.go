package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/config"
	"github.com/victoralfred/portfolio-risk/internal/domain/ratelimit"
	"github.com/victoralfred/portfolio-risk/internal/handlers"
	"github.com/victoralfred/portfolio-risk/internal/logging"
	"github.com/victoralfred/portfolio-risk/internal/metrics"
	"github.com/victoralfred/portfolio-risk/internal/middleware"
)

// Server interface
type Server interface {
	Setup()
	Start(ctx context.Context) error
	Router() *gin.Engine
}

// HealthCheck probes one backing dependency
type HealthCheck func(ctx context.Context) error

// HTTPServer implements the Server interface
type HTTPServer struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	services *Services
}

// Services holds the handlers and optional infrastructure the server mounts
type Services struct {
	RiskHandler  *handlers.RiskHandler
	LimitHandler *handlers.LimitHandler
	DocsHandler  *handlers.DocsHandler

	// RateLimiter is nil when Redis is disabled
	RateLimiter ratelimit.RateLimiter
	Metrics     *metrics.Registry
	// HealthChecks are run by the readiness probe, keyed by dependency name
	HealthChecks map[string]HealthCheck
}

// New creates a new server instance
func New(cfg *config.Config, svcs *Services, logger *zap.Logger) *HTTPServer {
	if svcs == nil {
		svcs = &Services{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		config:   cfg,
		services: svcs,
		logger:   logger,
	}
}

// Setup initializes the router
func (s *HTTPServer) Setup() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(logging.RequestLogger(s.logger, s.config.Log.SlowRequestThreshold))

	if s.services.Metrics != nil {
		s.router.Use(middleware.Metrics(s.services.Metrics))
	}

	s.router.Use(cors.New(s.corsConfig()))
}

func (s *HTTPServer) corsConfig() cors.Config {
	c := s.config.CORS
	cfg := cors.Config{
		AllowMethods:     c.AllowedMethods,
		AllowHeaders:     c.AllowedHeaders,
		ExposeHeaders:    c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}

	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(c.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = c.AllowedOrigins
	return cfg
}

func (s *HTTPServer) setupRoutes() {
	if s.config.Metrics.Enabled && s.services.Metrics != nil {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(s.services.Metrics.Handler()))
	}

	if h := s.services.DocsHandler; h != nil {
		s.router.GET("/docs", h.GetSwaggerUI)
		s.router.GET("/docs/openapi.json", h.GetSwaggerJSON)
	}

	v1 := s.router.Group("/v1")

	// Probes stay outside the rate limit
	v1.GET("/health", s.healthCheck)
	v1.GET("/ready", s.readinessCheck)

	api := v1.Group("")
	if s.services.RateLimiter != nil {
		api.Use(middleware.RedisRateLimit(s.services.RateLimiter, &s.config.RateLimit, s.logger))
	}

	if h := s.services.RiskHandler; h != nil {
		api.GET("/scenarios", h.ListScenarios)

		portfolios := api.Group("/portfolios/:id")
		{
			portfolios.GET("/var", h.ValueAtRisk)
			portfolios.GET("/cvar", h.ConditionalValueAtRisk)
			portfolios.GET("/metrics", h.Metrics)
			// Order checks sit on the trading path and are never throttled
			// by the calculation budget
			portfolios.POST("/orders/check", h.CheckOrder)

			calc := portfolios.Group("")
			if s.services.RateLimiter != nil {
				calc.Use(middleware.CalculationRateLimit(s.services.RateLimiter, s.config.RateLimit.Calculation, s.logger))
			}
			calc.GET("/tail", h.TailEstimate)
			calc.POST("/stress", h.StressTest)
			calc.POST("/beta", h.Beta)
		}
	}

	if h := s.services.LimitHandler; h != nil {
		limits := api.Group("/owners/:owner/limits")
		{
			limits.GET("", h.List)
			limits.POST("", h.Create)
			limits.GET("/:limitId", h.Get)
			limits.PUT("/:limitId", h.Update)
			limits.DELETE("/:limitId", h.Delete)
		}
	}
}

func (s *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.config.StartTime).Seconds(),
	})
}

func (s *HTTPServer) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.services.HealthChecks))
	ready := true
	for name, check := range s.services.HealthChecks {
		if err := check(ctx); err != nil {
			ready = false
			checks[name] = "unavailable"
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on a caller-supplied listener
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server",
			zap.String("address", ln.Addr().String()),
			zap.String("environment", s.config.Environment),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Router returns the gin router for testing
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}
