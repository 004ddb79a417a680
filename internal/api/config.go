// Package api provides the HTTP surface of shipwatch: region submission,
// detection and port queries, the notification websocket and metrics.
package api

import (
	"net"
	"time"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":9967"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultWindowDays      = 5
	DefaultPortsNumber     = 50
	DefaultCacheTTL        = 5 * time.Minute

	// DateLayout is the layout of start_date and end_date query parameters.
	DateLayout = "2006-01-02"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port to bind to

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // large CSV exports stream for a while
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // maximum request body size, e.g. "4M"

	// Submission rate limit per client IP, 0 disables.
	RateLimit float64
	Burst     int

	DefaultWindowDays int           // window used when a submission omits dates
	DefaultPorts      int           // ports returned when number is omitted
	CacheTTL          time.Duration // query cache entry lifetime, 0 disables

	MetricsEndpoint bool // serve /metrics
	Debug           bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:            DefaultListen,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		BodyLimit:         "4M",
		DefaultWindowDays: DefaultWindowDays,
		DefaultPorts:      DefaultPortsNumber,
		CacheTTL:          DefaultCacheTTL,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	cfg.RateLimit = settings.WebServer.RateLimit
	cfg.Burst = settings.WebServer.Burst

	if settings.Pipeline.DefaultWindowDays > 0 {
		cfg.DefaultWindowDays = settings.Pipeline.DefaultWindowDays
	}
	if settings.Ports.DefaultNumber > 0 {
		cfg.DefaultPorts = settings.Ports.DefaultNumber
	}
	cfg.CacheTTL = settings.Cache.TTL
	cfg.MetricsEndpoint = settings.Telemetry.Enabled
	cfg.Debug = settings.Debug

	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Context("listen", c.Listen).
			Build()
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.Newf("read and write timeouts must be positive").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.Burst < 1) {
		return errors.Newf("rate limit %v needs a burst of at least 1, got %d", c.RateLimit, c.Burst).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
