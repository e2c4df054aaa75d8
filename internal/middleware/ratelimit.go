package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	// Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	// Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultFeedLimit returns the default per-client limit for feed endpoints
// (100 requests per minute).
func DefaultFeedLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// RateLimitStore holds rate limit state. Implementations must be safe for
// concurrent use.
type RateLimitStore interface {
	// Allow records a request for key. It reports whether the request is
	// allowed, how many requests remain in the current window, and when
	// rejected, the number of seconds until a retry can succeed.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// limiterEntry is one key's token bucket.
type limiterEntry struct {
	limiter  *rate.Limiter
	config   RateLimitConfig
	lastSeen time.Time
}

// InMemoryRateLimitStore implements RateLimitStore with one token bucket
// per key. The bucket holds RequestsPerWindow tokens and refills evenly
// over WindowDuration. Thread-safe for concurrent access.
type InMemoryRateLimitStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.limiters[key]
	if !ok || e.config != config {
		every := config.WindowDuration / time.Duration(config.RequestsPerWindow)
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(every), config.RequestsPerWindow),
			config:  config,
		}
		s.limiters[key] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		remaining := int(math.Floor(e.limiter.TokensAt(now)))
		if remaining < 0 {
			remaining = 0
		}
		return true, remaining, 0
	}

	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	return false, 0, retryAfterSeconds(delay)
}

// Cleanup removes buckets idle for longer than maxIdle.
// Call it periodically; an idle bucket is full again after one window anyway.
func (s *InMemoryRateLimitStore) Cleanup(maxIdle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	for key, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// RedisRateLimitStore implements RateLimitStore with a fixed window counter
// in Redis, shared by every API replica. Redis failures fail open.
type RedisRateLimitStore struct {
	client  redis.Cmdable
	metrics *Metrics
	prefix  string
}

// NewRedisRateLimitStore creates a Redis-backed store. metrics may be nil.
func NewRedisRateLimitStore(client redis.Cmdable, metrics *Metrics) *RedisRateLimitStore {
	return &RedisRateLimitStore{
		client:  client,
		metrics: metrics,
		prefix:  "ratelimit:",
	}
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	redisKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, config.WindowDuration)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
		return true, config.RequestsPerWindow, 0
	}

	count := int(incr.Val())
	if count <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - count, 0
	}

	wait := ttl.Val()
	if wait <= 0 {
		wait = config.WindowDuration
	}
	return false, 0, retryAfterSeconds(wait)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		// First hop of X-Forwarded-For, then X-Real-IP, then the peer address.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// ViewerKeyFunc returns a KeyFunc that uses the authenticated viewer id if
// available, falling back to IP address. Authenticate must run first.
func ViewerKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if id := GetViewerID(r.Context()); id != "" {
			return "viewer:" + id
		}
		return "ip:" + ipFunc(r)
	}
}

// keyType returns the label for a rate limit key.
func keyType(key string) string {
	if prefix, _, ok := strings.Cut(key, ":"); ok && (prefix == "viewer" || prefix == "ip") {
		return prefix
	}
	return "ip"
}

// RateLimiter is a middleware that limits request rates. Allowed responses
// carry X-RateLimit-Limit and X-RateLimit-Remaining; rejected ones get 429
// with Retry-After and X-RateLimit-Reset (Unix seconds). metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			endpoint := normalizePath(r.URL.Path)
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType(key))
			}

			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				if metrics != nil {
					metrics.IncRateLimitBlocked(endpoint, keyType(key))
				}
				reset := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
				writeMiddlewareError(w, r, http.StatusTooManyRequests, errCodeRateLimited, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
