package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/lanternetwork/saletracker/pkg/tracing"
)

// HeaderIngestToken is the header carrying the shared ingestion secret
const HeaderIngestToken = "X-Ingest-Token"

// IngestToken authenticates ingestion triggers against a shared secret.
// The comparison is constant time so the token cannot be probed byte by
// byte.
func IngestToken(logger ectologger.Logger, token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.IngestToken")
			defer span.End()

			if token == "" {
				logger.WithContext(ctx).Error("ingest token is not configured")
				return echo.NewHTTPError(http.StatusUnauthorized, "ingestion is not enabled")
			}

			provided := c.Request().Header.Get(HeaderIngestToken)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				logger.WithContext(ctx).Warn("request has a missing or invalid ingest token")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid ingest token")
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
