// Package guards implements the request-level idempotency and rate-limit
// controls wrapping the ingestion entry points. Both guards are defined as
// store-backed interfaces with interchangeable process-local and Redis
// backends; the contract is identical regardless of backend.
package guards

import (
	"context"
	"sync"
	"time"

	saleredis "github.com/lanternetwork/saletracker/pkg/redis"
)

// RateLimitResult is the outcome of a rate limit check. RetryAfter is only
// meaningful when Allowed is false and is derived from the window's
// remaining time.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window request counter keyed by caller identity
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

// RateLimitConfig contains rate limit tuning
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local fixed-window rate limiter, suitable
// for single-instance deployments and tests.
type MemoryRateLimiter struct {
	config    RateLimitConfig
	mu        sync.Mutex
	counts    map[string]*windowCounter
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimiter creates a new MemoryRateLimiter
func NewMemoryRateLimiter(config RateLimitConfig) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		config: config,
		counts: make(map[string]*windowCounter),
		now:    time.Now,
	}
}

// Allow records one request for key and reports whether it is within the
// window's limit
func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	counter, ok := m.counts[key]
	if !ok || !now.Before(counter.resetAt) {
		counter = &windowCounter{resetAt: now.Add(m.config.Window)}
		m.counts[key] = counter
	}

	counter.count++
	if counter.count > m.config.MaxRequests {
		return RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: counter.resetAt.Sub(now),
		}, nil
	}

	return RateLimitResult{
		Allowed:   true,
		Remaining: m.config.MaxRequests - counter.count,
	}, nil
}

// sweep drops expired window counters at most once per window so the map
// does not grow with the number of distinct callers. Caller holds m.mu.
func (m *MemoryRateLimiter) sweep(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(m.config.Window)

	for key, counter := range m.counts {
		if !now.Before(counter.resetAt) {
			delete(m.counts, key)
		}
	}
}

// RedisRateLimiter is a shared fixed-window rate limiter for multi-instance
// deployments. The counter and its expiry are managed atomically so
// concurrent callers observe a consistent window.
type RedisRateLimiter struct {
	client    *saleredis.Client
	config    RateLimitConfig
	keyPrefix string
}

// NewRedisRateLimiter creates a new RedisRateLimiter
func NewRedisRateLimiter(client *saleredis.Client, config RateLimitConfig, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisRateLimiter{
		client:    client,
		config:    config,
		keyPrefix: keyPrefix,
	}
}

// fixedWindowScript increments the window counter, starting the window's
// expiry on the first request, and returns the count plus remaining TTL.
var fixedWindowScript = `
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	local count = redis.call("incr", key)
	if count == 1 then
		redis.call("pexpire", key, window_ms)
	end

	local ttl = redis.call("pttl", key)
	if ttl < 0 then
		redis.call("pexpire", key, window_ms)
		ttl = window_ms
	end

	return {count, ttl}
`

// Allow records one request for key and reports whether it is within the
// window's limit
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	result, err := r.client.Redis().Eval(ctx, fixedWindowScript,
		[]string{r.keyPrefix + key},
		r.config.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return RateLimitResult{}, err
	}

	count, _ := result[0].(int64)
	ttlMs, _ := result[1].(int64)

	if int(count) > r.config.MaxRequests {
		return RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(ttlMs) * time.Millisecond,
		}, nil
	}

	return RateLimitResult{
		Allowed:   true,
		Remaining: r.config.MaxRequests - int(count),
	}, nil
}
