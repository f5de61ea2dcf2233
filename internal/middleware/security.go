// Package middleware provides HTTP middleware for the admin REST surface:
// request tracing with correlation IDs (tracing.go) and per-endpoint rate
// limiting (this file).
package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SlidingWindowConfig configures the sliding window rate limiter.
type SlidingWindowConfig struct {
	// WindowSize is the duration of the sliding window.
	WindowSize time.Duration

	// MaxRequests is the maximum number of requests allowed within the window.
	MaxRequests int

	// PerEndpoint enables per-endpoint rate limiting. When false, all endpoints
	// share a single rate limit per IP.
	PerEndpoint bool

	// CleanupInterval controls how often expired entries are purged.
	CleanupInterval time.Duration
}

// DefaultSlidingWindowConfig returns sensible defaults for the sliding window rate limiter.
func DefaultSlidingWindowConfig() SlidingWindowConfig {
	return SlidingWindowConfig{
		WindowSize:      time.Minute,
		MaxRequests:     120,
		PerEndpoint:     true,
		CleanupInterval: 5 * time.Minute,
	}
}

// EndpointRateConfig defines per-endpoint rate limit overrides.
type EndpointRateConfig struct {
	Pattern     string
	MaxRequests int
	WindowSize  time.Duration
}

// DefaultEndpointRates returns per-endpoint rate limit configurations for the
// admin REST surface's write paths, which are more expensive and more
// sensitive to abuse than the read paths.
func DefaultEndpointRates() []EndpointRateConfig {
	return []EndpointRateConfig{
		{Pattern: "/tenants/*/credentials", MaxRequests: 10, WindowSize: time.Minute},
		{Pattern: "/tenants/*/templates", MaxRequests: 20, WindowSize: time.Minute},
		{Pattern: "/tenants/*/records", MaxRequests: 60, WindowSize: time.Minute},
		{Pattern: "/tenants/*/devices", MaxRequests: 30, WindowSize: time.Minute},
		{Pattern: "/tenants/*/conversations", MaxRequests: 30, WindowSize: time.Minute},
	}
}

// slidingWindowEntry tracks request timestamps for a single client+endpoint pair.
type slidingWindowEntry struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// SlidingWindowLimiter implements a per-IP sliding window rate limiter that
// supports per-endpoint overrides and automatic cleanup of expired entries.
type SlidingWindowLimiter struct {
	config    SlidingWindowConfig
	endpoints []EndpointRateConfig
	entries   sync.Map // map[string]*slidingWindowEntry
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(cfg SlidingWindowConfig, endpoints []EndpointRateConfig, logger *slog.Logger) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		config:    cfg,
		endpoints: endpoints,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow checks whether a request from the given IP to the given path should be
// allowed. Returns true if the request is within rate limits, false if it should
// be rejected.
func (l *SlidingWindowLimiter) Allow(ip, path string) bool {
	maxReqs, window := l.getLimits(path)
	key := l.buildKey(ip, path)
	now := time.Now()

	val, _ := l.entries.LoadOrStore(key, &slidingWindowEntry{})
	entry := val.(*slidingWindowEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cutoff := now.Add(-window)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= maxReqs {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// RemainingRequests returns how many requests the client has left in the current window.
func (l *SlidingWindowLimiter) RemainingRequests(ip, path string) int {
	maxReqs, window := l.getLimits(path)
	key := l.buildKey(ip, path)
	now := time.Now()

	val, ok := l.entries.Load(key)
	if !ok {
		return maxReqs
	}

	entry := val.(*slidingWindowEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cutoff := now.Add(-window)
	count := 0
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}

	remaining := maxReqs - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter returns the number of seconds until the client can make another request.
// Returns 0 if the client is not rate limited.
func (l *SlidingWindowLimiter) RetryAfter(ip, path string) int {
	_, window := l.getLimits(path)
	key := l.buildKey(ip, path)
	now := time.Now()

	val, ok := l.entries.Load(key)
	if !ok {
		return 0
	}

	entry := val.(*slidingWindowEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if len(entry.timestamps) == 0 {
		return 0
	}

	oldest := entry.timestamps[0]
	expiresAt := oldest.Add(window)
	if expiresAt.After(now) {
		return int(math.Ceil(expiresAt.Sub(now).Seconds()))
	}
	return 0
}

// getLimits returns the rate limit and window for the given path, checking
// per-endpoint overrides first.
func (l *SlidingWindowLimiter) getLimits(path string) (int, time.Duration) {
	for _, ep := range l.endpoints {
		if matchEndpointPattern(ep.Pattern, path) {
			return ep.MaxRequests, ep.WindowSize
		}
	}
	return l.config.MaxRequests, l.config.WindowSize
}

// buildKey creates a cache key from IP and path.
func (l *SlidingWindowLimiter) buildKey(ip, path string) string {
	if l.config.PerEndpoint {
		return ip + ":" + path
	}
	return ip
}

// cleanup periodically removes expired entries from the rate limiter.
func (l *SlidingWindowLimiter) cleanup() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			l.entries.Range(func(key, val interface{}) bool {
				entry := val.(*slidingWindowEntry)
				entry.mu.Lock()
				cutoff := now.Add(-l.config.WindowSize)
				valid := entry.timestamps[:0]
				for _, ts := range entry.timestamps {
					if ts.After(cutoff) {
						valid = append(valid, ts)
					}
				}
				entry.timestamps = valid
				empty := len(entry.timestamps) == 0
				entry.mu.Unlock()

				if empty {
					l.entries.Delete(key)
				}
				return true
			})
		case <-l.stopCh:
			return
		}
	}
}

// Stop halts the cleanup goroutine.
func (l *SlidingWindowLimiter) Stop() {
	close(l.stopCh)
}

// matchEndpointPattern matches a URL path against a simple pattern where * is a wildcard
// for a single path segment.
func matchEndpointPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != pathParts[i] {
			return false
		}
	}
	return true
}

// RateLimitMiddleware returns an HTTP middleware using the sliding window rate limiter.
// It sets standard rate limit response headers (X-RateLimit-Limit, X-RateLimit-Remaining,
// Retry-After) and responds with 429 Too Many Requests when the limit is exceeded.
func RateLimitMiddleware(limiter *SlidingWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				ip = strings.Split(fwd, ",")[0]
				ip = strings.TrimSpace(ip)
			}

			path := r.URL.Path
			maxReqs, _ := limiter.getLimits(path)

			if !limiter.Allow(ip, path) {
				retryAfter := limiter.RetryAfter(ip, path)
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxReqs))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":{"code":"rate_limited","message":"Too many requests. Retry after %d seconds."}}`, retryAfter)
				return
			}

			remaining := limiter.RemainingRequests(ip, path)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxReqs))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			next.ServeHTTP(w, r)
		})
	}
}
