package middleware

import (
	"fmt"
	"math"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/lanternetwork/saletracker/pkg/guards"
	"github.com/lanternetwork/saletracker/pkg/metrics"
)

// RateLimit rejects requests over the caller's window limit with a 429 and
// a Retry-After backoff hint. Callers are identified by originating IP.
func RateLimit(limiter guards.RateLimiter, logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			result, err := limiter.Allow(ctx, c.RealIP())
			if err != nil {
				logger.WithContext(ctx).WithError(err).Error("Rate limit check failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "rate limit check failed")
			}

			if !result.Allowed {
				metrics.RateLimitHits.WithLabelValues(c.Path()).Inc()
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
