package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/paulmach/orb"

	mw "github.com/shipwatch/shipwatch/internal/api/middleware"
	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/notification"
	"github.com/shipwatch/shipwatch/internal/observability"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// Store is the read side of the detection store used by the query endpoints.
type Store interface {
	ListDetections(ctx context.Context, start, end time.Time) ([]detection.Detection, error)
	ListTopPorts(ctx context.Context, n int) ([]detection.Port, error)
}

// Pipeline starts detached ingestion runs.
type Pipeline interface {
	StartPipeline(region orb.Geometry, clientID string, start, end time.Time)
}

// Server is the HTTP server for shipwatch.
// It manages the Echo instance, middleware, and all HTTP routes.
type Server struct {
	// Core components
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	// Dependencies
	store    Store
	pipeline Pipeline
	hub      *notification.Hub
	metrics  *observability.Metrics

	queryCache *cache.Cache
	limiter    *mw.IPRateLimiter
	now        func() time.Time

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStore sets the detection store for the server.
func WithStore(store Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithPipeline sets the coordinator that handles region submissions.
func WithPipeline(p Pipeline) ServerOption {
	return func(s *Server) {
		s.pipeline = p
	}
}

// WithHub sets the notification hub websocket clients are attached to.
func WithHub(h *notification.Hub) ServerOption {
	return func(s *Server) {
		s.hub = h
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for default submission windows.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		settings:  settings,
		now:       time.Now,
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = GetLogger()
	}
	if s.store == nil || s.pipeline == nil || s.hub == nil {
		return nil, errors.Newf("api server requires a store, a pipeline and a notification hub").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if config.CacheTTL > 0 {
		s.queryCache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	if config.RateLimit > 0 {
		s.limiter = mw.NewIPRateLimiter(config.RateLimit, config.Burst, s.httpMetrics(), s.logger)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.JSONSerializer = jsonSerializer{}
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("rate_limit", s.limiter != nil),
		logger.Duration("cache_ttl", config.CacheTTL))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewMetrics(s.httpMetrics()))
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.logger, func(c echo.Context) bool {
		return c.Path() == "/healthz" || c.Path() == "/metrics"
	}))

	securityConfig := mw.DefaultSecurityConfig()
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.metrics != nil && s.config.MetricsEndpoint {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	submit := []echo.MiddlewareFunc{}
	if s.limiter != nil {
		submit = append(submit, s.limiter.Middleware())
	}
	s.echo.POST("/polygon", s.submitRegion, submit...)

	s.echo.GET("/ships.geojson", s.getShips)
	s.echo.GET("/ports.geojson", s.getPorts)
	s.echo.GET("/ws/:client_id", s.websocket)
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.settings.Version,
		"build_date":     s.settings.BuildDate,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"connections":    s.hub.Count(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// FlushCache drops every cached query result. It is called after each
// successful ingestion so clients see new detections right away.
func (s *Server) FlushCache() {
	if s.queryCache != nil {
		s.queryCache.Flush()
	}
}

// ListenAndServe serves HTTP requests and blocks until the server is shut
// down. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	err := s.echo.Start(s.config.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.config.Listen).
			Build()
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
