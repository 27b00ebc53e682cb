package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanternetwork/saletracker/pkg/guards"
	"github.com/lanternetwork/saletracker/pkg/middleware"
)

func testLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newEcho(logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	return e
}

func doRequest(e *echo.Echo, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIngestToken(t *testing.T) {
	logger := testLogger()

	okHandler := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	t.Run("returns 401 when no token is configured", func(t *testing.T) {
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.IngestToken(logger, ""))

		rec := doRequest(e, http.MethodPost, "/ingest", map[string]string{
			middleware.HeaderIngestToken: "anything",
		})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns 401 for a missing token", func(t *testing.T) {
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.IngestToken(logger, "secret"))

		rec := doRequest(e, http.MethodPost, "/ingest", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns 401 for a wrong token", func(t *testing.T) {
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.IngestToken(logger, "secret"))

		rec := doRequest(e, http.MethodPost, "/ingest", map[string]string{
			middleware.HeaderIngestToken: "not-the-secret",
		})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("passes through with the correct token", func(t *testing.T) {
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.IngestToken(logger, "secret"))

		rec := doRequest(e, http.MethodPost, "/ingest", map[string]string{
			middleware.HeaderIngestToken: "secret",
		})

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	logger := testLogger()

	okHandler := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	t.Run("allows requests within the limit", func(t *testing.T) {
		limiter := guards.NewMemoryRateLimiter(guards.RateLimitConfig{
			Window:      time.Minute,
			MaxRequests: 2,
		})
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.RateLimit(limiter, logger))

		for i := 0; i < 2; i++ {
			rec := doRequest(e, http.MethodPost, "/ingest", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("rejects requests over the limit with a backoff hint", func(t *testing.T) {
		limiter := guards.NewMemoryRateLimiter(guards.RateLimitConfig{
			Window:      time.Minute,
			MaxRequests: 1,
		})
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.RateLimit(limiter, logger))

		rec := doRequest(e, http.MethodPost, "/ingest", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(e, http.MethodPost, "/ingest", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, retryAfter, 1)
		assert.LessOrEqual(t, retryAfter, 60)
	})

	t.Run("fails closed when the limiter errors", func(t *testing.T) {
		e := newEcho(logger)
		e.POST("/ingest", okHandler, middleware.RateLimit(failingLimiter{}, logger))

		rec := doRequest(e, http.MethodPost, "/ingest", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (guards.RateLimitResult, error) {
	return guards.RateLimitResult{}, errors.New("backend unavailable")
}

func TestIdempotency(t *testing.T) {
	logger := testLogger()

	t.Run("passes through without a key", func(t *testing.T) {
		store := guards.NewMemoryIdempotencyStore(time.Hour)
		calls := 0
		e := newEcho(logger)
		e.POST("/ingest", func(c echo.Context) error {
			calls++
			return c.JSON(http.StatusOK, map[string]int{"call": calls})
		}, middleware.Idempotency(store, logger))

		doRequest(e, http.MethodPost, "/ingest", nil)
		doRequest(e, http.MethodPost, "/ingest", nil)

		assert.Equal(t, 2, calls)
	})

	t.Run("replays the stored outcome for a repeated key", func(t *testing.T) {
		store := guards.NewMemoryIdempotencyStore(time.Hour)
		calls := 0
		e := newEcho(logger)
		e.POST("/ingest", func(c echo.Context) error {
			calls++
			return c.JSON(http.StatusOK, map[string]int{"call": calls})
		}, middleware.Idempotency(store, logger))

		headers := map[string]string{middleware.HeaderIdempotencyKey: "run-once"}

		first := doRequest(e, http.MethodPost, "/ingest", headers)
		require.Equal(t, http.StatusOK, first.Code)
		assert.Empty(t, first.Header().Get(middleware.HeaderIdempotentReplay))

		second := doRequest(e, http.MethodPost, "/ingest", headers)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotentReplay))
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, 1, calls)
	})

	t.Run("returns 409 while the key is still processing", func(t *testing.T) {
		store := guards.NewMemoryIdempotencyStore(time.Hour)
		acquired, _, err := store.Reserve(context.Background(), "in-flight")
		require.NoError(t, err)
		require.True(t, acquired)

		e := newEcho(logger)
		e.POST("/ingest", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}, middleware.Idempotency(store, logger))

		rec := doRequest(e, http.MethodPost, "/ingest", map[string]string{
			middleware.HeaderIdempotencyKey: "in-flight",
		})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("releases the key when the handler fails", func(t *testing.T) {
		store := guards.NewMemoryIdempotencyStore(time.Hour)
		calls := 0
		e := newEcho(logger)
		e.POST("/ingest", func(c echo.Context) error {
			calls++
			if calls == 1 {
				return echo.NewHTTPError(http.StatusInternalServerError, "transient failure")
			}
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}, middleware.Idempotency(store, logger))

		headers := map[string]string{middleware.HeaderIdempotencyKey: "retry-me"}

		first := doRequest(e, http.MethodPost, "/ingest", headers)
		require.Equal(t, http.StatusInternalServerError, first.Code)

		second := doRequest(e, http.MethodPost, "/ingest", headers)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Empty(t, second.Header().Get(middleware.HeaderIdempotentReplay))
		assert.Equal(t, 2, calls)
	})

	t.Run("stores only the response body for replay", func(t *testing.T) {
		store := guards.NewMemoryIdempotencyStore(time.Hour)
		e := newEcho(logger)
		e.POST("/ingest", func(c echo.Context) error {
			return c.JSON(http.StatusCreated, map[string]string{"run_id": "abc"})
		}, middleware.Idempotency(store, logger))

		headers := map[string]string{middleware.HeaderIdempotencyKey: "created"}

		first := doRequest(e, http.MethodPost, "/ingest", headers)
		require.Equal(t, http.StatusCreated, first.Code)

		second := doRequest(e, http.MethodPost, "/ingest", headers)
		assert.Equal(t, http.StatusOK, second.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
		assert.Equal(t, "abc", body["run_id"])
	})
}
