package kaahttp

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a resilient authenticated HTTP client that layers single-flight
// token refresh, retries, per-endpoint circuit breaking, rate limiting,
// caching and metrics around the standard net/http Client. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	retryBudget       *RetryBudget
	retry             *RetryManager

	breakers    *CircuitBreakerRegistry
	rateLimiter *RateLimiter

	cache    *RequestCache
	cacheTTL time.Duration

	metrics   *MetricsCollector
	sanitizer *DataSanitizer

	tokens       TokenStore
	auth         AuthService
	refreshURL   string
	refreshSkew  time.Duration
	onAuthFail   func()
	authDelay    time.Duration
	events       SecurityEventSink
	slowCutoff   time.Duration

	logger Logger
	debug  *DebugConfig

	interceptor     *ResponseInterceptor
	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:           30 * time.Second,
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		backoffStrategy:   ExponentialJitter,
		cacheTTL:          5 * time.Minute,
		authDelay:         defaultAuthFailureDelay,
		slowCutoff:        defaultSlowRequestThreshold,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	// A nil debug config falls back to the defaults.
	if client.debug == nil {
		client.debug = DefaultDebugConfig()
	}

	if client.retry == nil {
		client.retry = NewRetryManagerWithStrategy(
			client.maxRetries, client.initialBackoff, client.maxBackoff,
			client.backoffMultiplier, client.jitter, client.backoffStrategy)
		client.retry.budget = client.retryBudget
	}

	client.interceptor = &ResponseInterceptor{
		metrics:      client.metrics,
		breakers:     client.breakers,
		cache:        client.cache,
		sanitizer:    client.sanitizer,
		retry:        client.retry,
		errorHandler: &ErrorHandler{maxRetries: client.maxRetries, logger: client.logger},
		tokens:       client.tokens,
		auth:         client.auth,
		resubmit:     client.dispatch,
		refreshURL:   client.refreshURL,
		events:       client.events,
		onAuthFail:   client.onAuthFail,
		authDelay:    client.authDelay,
		slowCutoff:   client.slowCutoff,
		cacheTTL:     client.cacheTTL,
		logger:       client.logger,
		debug:        client.debug,
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Delete performs an HTTP DELETE with context.
func (c *Client) Delete(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes a prepared *http.Request applying all reliability features.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	meta := &attemptMeta{
		correlationID: c.newCorrelationID(),
		start:         time.Now(),
	}
	req = req.WithContext(withAttemptMeta(req.Context(), meta))
	endpoint := endpointKey(req)

	if c.debug.logRequests() && c.logger != nil {
		c.logger.Debug("Starting request", "correlationID", meta.correlationID, "method", req.Method, "url", requestURL(req), "endpoint", endpoint)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
		defer c.metrics.RecordRequestEnd(req.Method, endpoint)
	}

	return c.dispatch(req)
}

// dispatch runs the full pipeline for one attempt: admission (rate limit,
// circuit breaker), cache read, auth header, transport, then routing through
// the response interceptor. Retries and refresh resubmissions re-enter here.
func (c *Client) dispatch(req *http.Request) (*http.Response, error) {
	meta := attemptMetaFrom(req.Context())
	endpoint := endpointKey(req)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeRateLimit, req.Method, endpoint)
		}
		return nil, &ClientError{
			Type:          ErrorTypeRateLimit,
			Message:       "rate limit exceeded",
			Cause:         ErrRateLimited,
			CorrelationID: meta.id(),
			Method:        req.Method,
			URL:           requestURL(req),
			Timestamp:     time.Now(),
		}
	}

	if c.breakers != nil && !c.breakers.Allow(endpoint) {
		if c.debug.logCircuit() && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "correlationID", meta.id(), "endpoint", endpoint)
		}
		if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
		}
		return nil, &ClientError{
			Type:          ErrorTypeCircuitOpen,
			Message:       "circuit breaker is open",
			Cause:         ErrCircuitOpen,
			CorrelationID: meta.id(),
			Method:        req.Method,
			URL:           requestURL(req),
			Timestamp:     time.Now(),
		}
	}

	cacheKey, cacheable := c.cacheLookupKey(req)
	if cacheable {
		if entry, found := c.cache.Get(cacheKey); found {
			if c.debug.logCache() && c.logger != nil {
				c.logger.Debug("Cache hit", "correlationID", meta.id(), "cacheKey", cacheKey)
			}
			if c.metrics != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
				c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, meta.elapsed(), true, true)
			}
			return responseFromEntry(entry, req), nil
		}

		if c.metrics != nil {
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}
		// A stale entry still revalidates cheaply via its ETag.
		if stale, ok := c.cache.Stale(cacheKey); ok && stale.ETag != "" && req.Header.Get("If-None-Match") == "" {
			req.Header.Set("If-None-Match", stale.ETag)
		}
	}

	if err := c.attachAuthorization(req, meta); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)

	if err == nil && resp.StatusCode == http.StatusNotModified && cacheable {
		if stale, ok := c.cache.Stale(cacheKey); ok {
			discardResponse(resp)
			c.cache.Touch(cacheKey, c.ttlFor(req))
			if c.metrics != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
				c.metrics.RecordRequest(req.Method, endpoint, stale.StatusCode, meta.elapsed(), true, true)
			}
			return responseFromEntry(stale, req), nil
		}
	}

	if err != nil || resp.StatusCode >= 400 {
		return c.interceptor.HandleError(req, resp, err)
	}
	return c.interceptor.HandleSuccess(req, resp)
}

// attachAuthorization sets the Bearer header from the token store, refreshing
// first when the access token is about to expire. Explicit Authorization
// headers set by the caller are left alone.
func (c *Client) attachAuthorization(req *http.Request, meta *attemptMeta) error {
	if c.tokens == nil || req.Header.Get("Authorization") != "" || c.interceptor.isRefreshRequest(req) {
		return nil
	}

	token := c.tokens.AccessToken()
	if token == "" {
		return nil
	}

	if c.refreshSkew > 0 && c.auth != nil && tokenExpiringWithin(token, c.refreshSkew) {
		fresh, err := c.interceptor.FreshToken(req.Context(), meta.id())
		if err == nil {
			token = fresh
		}
		// A failed proactive refresh is not fatal here: the stored token
		// may still be accepted, and a real 401 takes the gate path.
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) cacheLookupKey(req *http.Request) (string, bool) {
	if c.cache == nil || req.Method != http.MethodGet {
		return "", false
	}
	if cc := cacheControlFrom(req.Context()); cc != nil && cc.Skip {
		return "", false
	}
	return c.cache.GenerateKey(req.Method, requestURL(req), req.URL.Query()), true
}

func (c *Client) ttlFor(req *http.Request) time.Duration {
	if cc := cacheControlFrom(req.Context()); cc != nil && cc.TTL > 0 {
		return cc.TTL
	}
	return c.cacheTTL
}

func (c *Client) newCorrelationID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return uuid.NewString()
}

// Interceptor exposes the response interceptor, mainly for tests and for
// callers that want to force a token refresh.
func (c *Client) Interceptor() *ResponseInterceptor {
	return c.interceptor
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// tokenExpiringWithin reports whether the JWT's exp claim falls inside the
// skew window. Unparseable tokens report false; the 401 path will sort them.
func tokenExpiringWithin(token string, skew time.Duration) bool {
	exp, err := (TokenPair{AccessToken: token}).AccessTokenExpiry()
	if err != nil {
		return false
	}
	return time.Until(exp) <= skew
}
