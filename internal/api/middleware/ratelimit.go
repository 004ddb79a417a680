package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

// IPRateLimiter hands out one token bucket per client IP. Idle buckets
// expire from the underlying cache.
type IPRateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
	metrics  *metrics.HTTPMetrics
	logger   logger.Logger
}

// NewIPRateLimiter creates a limiter allowing perSecond requests per IP with
// the given burst. m and log may be nil.
func NewIPRateLimiter(perSecond float64, burst int, m *metrics.HTTPMetrics, log logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: cache.New(limiterIdleTTL, 2*limiterIdleTTL),
		metrics:  m,
		logger:   log,
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPRateLimiter) Allow(ip string) bool {
	if v, ok := l.limiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		// touch so active clients keep their bucket
		l.limiters.SetDefault(ip, lim)
		return lim.Allow()
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// lost a race with a concurrent first request from the same IP
		if v, ok := l.limiters.Get(ip); ok {
			lim = v.(*rate.Limiter)
		}
	}
	return lim.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if l.Allow(ip) {
				return next(c)
			}
			if l.metrics != nil {
				l.metrics.RecordRateLimited(c.Path())
			}
			if l.logger != nil {
				l.logger.Debug("request rate limited",
					logger.String("ip", ip),
					logger.String("path", c.Path()))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")
		}
	}
}
