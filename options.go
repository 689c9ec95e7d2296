package kaahttp

import (
	"fmt"
	"net/http"
	"time"
)

// WithMaxRetries sets the maximum number of retry attempts
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithInitialBackoff sets the initial backoff duration
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffMultiplier = f
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0)
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithBackoffStrategy selects the jitter algorithm used between retries
func WithBackoffStrategy(s BackoffStrategy) Option {
	return func(c *Client) {
		c.backoffStrategy = s
	}
}

// WithRetryBudget bounds total retries across all requests per window
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.retryBudget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithRetryManager sets a fully custom retry manager
func WithRetryManager(m *RetryManager) Option {
	return func(c *Client) {
		c.retry = m
	}
}

// WithRateLimiter sets the rate limiter
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithCircuitBreaker enables per-endpoint circuit breakers with the given config
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakers = NewCircuitBreakerRegistry(config)
	}
}

// WithCache enables GET response caching with the default in-memory cache
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewRequestCache()
		c.cacheTTL = ttl
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithAuth wires the token store and refresh service, enabling the 401
// single-flight refresh gate. When svc is a *RefreshEndpoint its URL is used
// for refresh-loop prevention automatically.
func WithAuth(store TokenStore, svc AuthService) Option {
	return func(c *Client) {
		c.tokens = store
		c.auth = svc
		if endpoint, ok := svc.(*RefreshEndpoint); ok && c.refreshURL == "" {
			c.refreshURL = endpoint.URL()
		}
	}
}

// WithRefreshURL overrides the refresh endpoint URL used for loop prevention
func WithRefreshURL(url string) Option {
	return func(c *Client) {
		c.refreshURL = url
	}
}

// WithProactiveRefresh refreshes the access token before sending when its
// exp claim is within skew of expiry, instead of waiting for the 401.
func WithProactiveRefresh(skew time.Duration) Option {
	return func(c *Client) {
		c.refreshSkew = skew
	}
}

// WithOnAuthFailure registers a callback fired (after a short delay) when a
// token refresh fails terminally: navigate to login, re-prompt, etc.
func WithOnAuthFailure(fn func()) Option {
	return func(c *Client) {
		c.onAuthFail = fn
	}
}

// WithAuthFailureDelay overrides the delay before OnAuthFailure fires
func WithAuthFailureDelay(d time.Duration) Option {
	return func(c *Client) {
		c.authDelay = d
	}
}

// WithSanitizer enables response sanitization with the default sensitive keys
func WithSanitizer(extraKeys ...string) Option {
	return func(c *Client) {
		c.sanitizer = NewDataSanitizer(extraKeys...)
	}
}

// WithSecurityEventSink registers the receiver for security events
func WithSecurityEventSink(sink SecurityEventSink) Option {
	return func(c *Client) {
		c.events = sink
	}
}

// WithSlowRequestThreshold overrides the elapsed time above which a request
// is logged as slow
func WithSlowRequestThreshold(d time.Duration) Option {
	return func(c *Client) {
		c.slowCutoff = d
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with the zerolog-backed default logger
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		if c.logger == nil {
			c.logger = NewDefaultLogger(nil)
		}
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating correlation ids
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateRateLimiterConfig()...)
	errs = append(errs, c.validateCacheConfig()...)
	errs = append(errs, c.validateAuthConfig()...)
	errs = append(errs, c.validateHTTPClientConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	if c.maxRetries < 0 {
		errs = append(errs, "maxRetries must be non-negative")
	}
	if c.initialBackoff <= 0 {
		errs = append(errs, "initialBackoff must be positive")
	}
	if c.maxBackoff < c.initialBackoff {
		errs = append(errs, "maxBackoff must be greater than or equal to initialBackoff")
	}
	if c.backoffMultiplier <= 0 {
		errs = append(errs, "backoffMultiplier must be positive")
	}
	if c.jitter < 0 || c.jitter > 1 {
		errs = append(errs, "jitter must be between 0 and 1")
	}
	if c.timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	return errs
}

func (c *Client) validateRateLimiterConfig() []string {
	var errs []string

	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens <= 0 {
			errs = append(errs, "rateLimiter maxTokens must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			errs = append(errs, "rateLimiter refillRate must be positive")
		}
	}

	return errs
}

func (c *Client) validateCacheConfig() []string {
	var errs []string

	if c.cache != nil && c.cacheTTL <= 0 {
		errs = append(errs, "cacheTTL must be positive when cache is enabled")
	}

	return errs
}

func (c *Client) validateAuthConfig() []string {
	var errs []string

	if c.auth != nil && c.tokens == nil {
		errs = append(errs, "token store must be set when an auth service is configured")
	}
	if c.refreshSkew > 0 && c.auth == nil {
		errs = append(errs, "proactive refresh requires an auth service")
	}
	if c.authDelay < 0 {
		errs = append(errs, "auth failure delay must be non-negative")
	}

	return errs
}

func (c *Client) validateHTTPClientConfig() []string {
	var errs []string

	if c.httpClient == nil {
		errs = append(errs, "HTTP client cannot be nil")
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.maxRetries > 100 {
		errs = append(errs, "maxRetries > 100 may cause excessive resource usage")
	}
	if c.initialBackoff > 10*time.Minute {
		errs = append(errs, "initialBackoff > 10m may cause very long delays")
	}
	if c.maxBackoff > 1*time.Hour {
		errs = append(errs, "maxBackoff > 1h may cause extremely long delays")
	}
	if c.timeout > 10*time.Minute {
		errs = append(errs, "timeout > 10m may cause requests to hang for too long")
	}
	if c.cache != nil && c.cacheTTL > 24*time.Hour {
		errs = append(errs, "cacheTTL > 24h may cause stale data issues")
	}

	return errs
}
