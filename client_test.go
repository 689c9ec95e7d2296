package kaahttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	c := New()

	if !c.IsValid() {
		t.Fatalf("Expected default configuration to be valid, got %v", c.ValidationError())
	}
	if c.maxRetries != 3 {
		t.Errorf("Expected maxRetries=3, got %d", c.maxRetries)
	}
	if c.initialBackoff != 100*time.Millisecond {
		t.Errorf("Expected initialBackoff=100ms, got %v", c.initialBackoff)
	}
	if c.maxBackoff != 10*time.Second {
		t.Errorf("Expected maxBackoff=10s, got %v", c.maxBackoff)
	}
	if c.timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", c.timeout)
	}
	if c.retry == nil {
		t.Error("Expected a retry manager to be built")
	}
	if c.interceptor == nil {
		t.Error("Expected the response interceptor to be wired")
	}
	if c.slowCutoff != defaultSlowRequestThreshold {
		t.Errorf("Expected default slow threshold, got %v", c.slowCutoff)
	}
}

func TestNewAppliesOptions(t *testing.T) {
	c := New(
		WithMaxRetries(5),
		WithInitialBackoff(50*time.Millisecond),
		WithMaxBackoff(2*time.Second),
		WithBackoffMultiplier(3.0),
		WithJitter(0.5),
		WithTimeout(10*time.Second),
		WithCache(time.Minute),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2}),
		WithRateLimiter(10, time.Second),
		WithSanitizer("mpesa_pin"),
		WithSlowRequestThreshold(time.Second),
	)

	if !c.IsValid() {
		t.Fatalf("Expected valid configuration, got %v", c.ValidationError())
	}
	if c.maxRetries != 5 {
		t.Errorf("Expected maxRetries=5, got %d", c.maxRetries)
	}
	if c.cache == nil || c.cacheTTL != time.Minute {
		t.Error("Expected cache enabled with 1m TTL")
	}
	if c.breakers == nil {
		t.Error("Expected circuit breaker registry enabled")
	}
	if c.rateLimiter == nil {
		t.Error("Expected rate limiter enabled")
	}
	if c.sanitizer == nil {
		t.Error("Expected sanitizer enabled")
	}
	if c.httpClient.Timeout != 10*time.Second {
		t.Errorf("Expected HTTP client timeout=10s, got %v", c.httpClient.Timeout)
	}
}

func TestWithJitterClamped(t *testing.T) {
	c := New(WithJitter(2.5))
	if c.jitter != 1 {
		t.Errorf("Expected jitter clamped to 1, got %f", c.jitter)
	}

	c = New(WithJitter(-0.5))
	if c.jitter != 0 {
		t.Errorf("Expected jitter clamped to 0, got %f", c.jitter)
	}
}

func TestWithAuthExtractsRefreshURL(t *testing.T) {
	endpoint := NewRefreshEndpoint("https://api.kaapro.dev/auth/refresh", nil)
	c := New(WithAuth(NewMemoryTokenStore(), endpoint))

	if c.refreshURL != "https://api.kaapro.dev/auth/refresh" {
		t.Errorf("Expected refresh URL extracted from endpoint, got %q", c.refreshURL)
	}
}

func TestValidateConfigurationFailures(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		want    string
	}{
		{"negative retries", []Option{WithMaxRetries(-1)}, "maxRetries must be non-negative"},
		{"zero backoff", []Option{WithInitialBackoff(0)}, "initialBackoff must be positive"},
		{"backoff inversion", []Option{WithInitialBackoff(time.Minute), WithMaxBackoff(time.Second)}, "maxBackoff must be greater"},
		{"zero multiplier", []Option{WithBackoffMultiplier(0)}, "backoffMultiplier must be positive"},
		{"zero timeout", []Option{WithTimeout(0)}, "timeout must be positive"},
		{"cache without ttl", []Option{WithCache(0)}, "cacheTTL must be positive"},
		{"proactive refresh without auth", []Option{WithProactiveRefresh(time.Minute)}, "proactive refresh requires an auth service"},
		{"negative auth delay", []Option{WithAuthFailureDelay(-time.Second)}, "auth failure delay must be non-negative"},
		{"excessive retries", []Option{WithMaxRetries(200)}, "maxRetries > 100"},
		{"excessive cache ttl", []Option{WithCache(48 * time.Hour)}, "cacheTTL > 24h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.options...)

			if c.IsValid() {
				t.Fatal("Expected invalid configuration")
			}

			var clientErr *ClientError
			if !errors.As(c.ValidationError(), &clientErr) {
				t.Fatalf("Expected *ClientError, got %T", c.ValidationError())
			}
			if clientErr.Type != ErrorTypeValidation {
				t.Errorf("Expected Validation error type, got %s", clientErr.Type)
			}
			if !strings.Contains(clientErr.Cause.Error(), tt.want) {
				t.Errorf("Expected cause to mention %q, got %q", tt.want, clientErr.Cause.Error())
			}
		})
	}
}

func TestDoRefusesInvalidConfiguration(t *testing.T) {
	c := New(WithMaxRetries(-1))

	_, err := c.Get(context.Background(), "https://api.kaapro.dev/v1/properties")
	if err == nil {
		t.Fatal("Expected error from invalid configuration")
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrorTypeValidation {
		t.Errorf("Expected validation ClientError, got %v", err)
	}
}

func TestRateLimiterDeniesRequest(t *testing.T) {
	c := New(WithRateLimiter(1, time.Hour))

	req, _ := http.NewRequest(http.MethodGet, "https://api.kaapro.dev/v1/properties", nil)
	if !c.rateLimiter.Allow() {
		t.Fatal("Expected first token available")
	}

	_, err := c.dispatch(req.WithContext(withAttemptMeta(req.Context(), &attemptMeta{correlationID: "corr-rl"})))

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.Type != ErrorTypeRateLimit {
		t.Errorf("Expected RateLimit error, got %s", clientErr.Type)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("Expected wrapped ErrRateLimited sentinel")
	}
	if clientErr.CorrelationID != "corr-rl" {
		t.Errorf("Expected correlation id on rate-limit error, got %q", clientErr.CorrelationID)
	}
}

func TestOpenBreakerShortCircuitsDispatch(t *testing.T) {
	c := New(WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}))

	req, _ := http.NewRequest(http.MethodGet, "https://api.kaapro.dev/v1/properties", nil)
	c.breakers.RecordFailure(endpointKey(req))

	_, err := c.dispatch(req.WithContext(withAttemptMeta(req.Context(), &attemptMeta{})))

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.Type != ErrorTypeCircuitOpen {
		t.Errorf("Expected CircuitOpen error, got %s", clientErr.Type)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("Expected wrapped ErrCircuitOpen sentinel")
	}
}

func TestWithDebugConfigNilIsSafe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := New(WithDebugConfig(nil))
	if !c.IsValid() {
		t.Fatalf("Expected valid configuration, got %v", c.ValidationError())
	}

	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected request to succeed with nil debug config, got %v", err)
	}
	_ = resp.Body.Close()
}

func TestWithRequestIDGenerator(t *testing.T) {
	c := New(WithRequestIDGenerator(func() string { return "fixed-id" }))

	if got := c.newCorrelationID(); got != "fixed-id" {
		t.Errorf("Expected custom generator output, got %q", got)
	}
}

func TestEndpointKey(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.kaapro.dev/v1/properties?city=nairobi", nil)

	if got := endpointKey(req); got != "GET api.kaapro.dev/v1/properties" {
		t.Errorf("Unexpected endpoint key: %q", got)
	}
}
