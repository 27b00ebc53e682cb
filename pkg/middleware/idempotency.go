package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/lanternetwork/saletracker/pkg/guards"
	"github.com/lanternetwork/saletracker/pkg/metrics"
)

const (
	// HeaderIdempotencyKey is the caller-supplied replay-protection key
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the idempotency store
	HeaderIdempotentReplay = "Idempotent-Replay"
)

// responseRecorder tees the response body so a successful outcome can be
// stored for replay
type responseRecorder struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency short-circuits replayed requests. A request carrying a key
// already processed within the TTL window gets the prior response back
// without re-executing side effects; a key still being processed gets a
// 409. Requests without a key pass through unguarded.
func Idempotency(store guards.IdempotencyStore, logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if key == "" {
				return next(c)
			}

			ctx := c.Request().Context()
			acquired, existing, err := store.Reserve(ctx, key)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Error("Idempotency check failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "idempotency check failed")
			}

			if !acquired {
				if existing != nil && existing.Pending {
					return echo.NewHTTPError(http.StatusConflict, "request with this idempotency key is still processing")
				}

				metrics.IdempotencyReplays.Inc()
				c.Response().Header().Set(HeaderIdempotentReplay, "true")

				var outcome json.RawMessage
				if existing != nil {
					outcome = existing.Outcome
				}
				if outcome == nil {
					outcome = json.RawMessage(`{}`)
				}
				return c.JSONBlob(http.StatusOK, outcome)
			}

			recorder := &responseRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = recorder

			if err := next(c); err != nil {
				// The run did not execute to completion; let a retry through.
				if releaseErr := store.Release(ctx, key); releaseErr != nil {
					logger.WithContext(ctx).WithError(releaseErr).Warn("Failed to release idempotency key")
				}
				return err
			}

			if recorder.status >= 200 && recorder.status < 300 {
				if storeErr := store.Store(ctx, key, recorder.body.Bytes()); storeErr != nil {
					logger.WithContext(ctx).WithError(storeErr).Warn("Failed to store idempotency outcome")
				}
			} else {
				if releaseErr := store.Release(ctx, key); releaseErr != nil {
					logger.WithContext(ctx).WithError(releaseErr).Warn("Failed to release idempotency key")
				}
			}

			return nil
		}
	}
}
