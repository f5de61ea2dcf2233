package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMatchEndpointPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		expect  bool
	}{
		{"/tenants/*/credentials", "/tenants/tenant-a/credentials", true},
		{"/tenants/*/credentials", "/tenants/tenant-a/templates", false},
		{"/tenants/*/credentials", "/tenants/tenant-a/credentials/extra", false},
	}
	for _, tc := range tests {
		if got := matchEndpointPattern(tc.pattern, tc.path); got != tc.expect {
			t.Errorf("matchEndpointPattern(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.expect)
		}
	}
}

func TestSlidingWindowLimiter_AllowsThenBlocks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := SlidingWindowConfig{WindowSize: time.Minute, MaxRequests: 2, PerEndpoint: true, CleanupInterval: time.Hour}
	l := NewSlidingWindowLimiter(cfg, nil, logger)
	defer l.Stop()

	if !l.Allow("1.2.3.4", "/tenants/t/records") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("1.2.3.4", "/tenants/t/records") {
		t.Fatal("second request should be allowed")
	}
	if l.Allow("1.2.3.4", "/tenants/t/records") {
		t.Fatal("third request should be rate limited")
	}
	if l.RetryAfter("1.2.3.4", "/tenants/t/records") <= 0 {
		t.Error("expected a positive retry-after once rate limited")
	}
}

func TestSlidingWindowLimiter_PerEndpointOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := SlidingWindowConfig{WindowSize: time.Minute, MaxRequests: 120, PerEndpoint: true, CleanupInterval: time.Hour}
	endpoints := []EndpointRateConfig{{Pattern: "/tenants/*/credentials", MaxRequests: 1, WindowSize: time.Minute}}
	l := NewSlidingWindowLimiter(cfg, endpoints, logger)
	defer l.Stop()

	if !l.Allow("5.6.7.8", "/tenants/t/credentials") {
		t.Fatal("first credentials request should be allowed")
	}
	if l.Allow("5.6.7.8", "/tenants/t/credentials") {
		t.Fatal("second credentials request should hit the endpoint override limit")
	}
	if !l.Allow("5.6.7.8", "/tenants/t/templates") {
		t.Fatal("templates endpoint should use the unrelated global limit")
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := SlidingWindowConfig{WindowSize: time.Minute, MaxRequests: 1, PerEndpoint: true, CleanupInterval: time.Hour}
	l := NewSlidingWindowLimiter(cfg, nil, logger)
	defer l.Stop()

	handler := RateLimitMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tenants/t/records", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set on a 429")
	}
}
