package kaahttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// maxBufferedBody bounds how much of a response body the interceptor
	// will buffer for caching and sanitization.
	maxBufferedBody = 10 * 1024 * 1024

	defaultSlowRequestThreshold = 5 * time.Second
	defaultAuthFailureDelay     = 100 * time.Millisecond
)

// resubmitFunc re-dispatches a request through the client's full pipeline.
// Injected at construction to avoid a client/interceptor reference cycle.
type resubmitFunc func(*http.Request) (*http.Response, error)

// ResponseInterceptor owns the response side of the pipeline: success-path
// bookkeeping (metrics, circuit breaker, cache, sanitization, security
// heuristics) and the failure-path state machine (single-flight token
// refresh, backoff retry, terminal normalization).
type ResponseInterceptor struct {
	metrics      *MetricsCollector
	breakers     *CircuitBreakerRegistry
	cache        *RequestCache
	sanitizer    *DataSanitizer
	retry        *RetryManager
	errorHandler *ErrorHandler

	tokens TokenStore
	auth   AuthService
	gate   refreshGate

	resubmit    resubmitFunc
	refreshURL  string
	events      SecurityEventSink
	onAuthFail  func()
	authDelay   time.Duration
	slowCutoff  time.Duration
	cacheTTL    time.Duration
	logger      Logger
	debug       *DebugConfig
}

// HandleSuccess runs the success-path bookkeeping chain in order: metrics,
// circuit breaker, cache write, sanitization, security heuristics, slow
// request warning. It only produces side effects; the (possibly sanitized)
// response is always returned.
func (ri *ResponseInterceptor) HandleSuccess(req *http.Request, resp *http.Response) (*http.Response, error) {
	meta := attemptMetaFrom(req.Context())
	elapsed := meta.elapsed()
	endpoint := endpointKey(req)

	if ri.metrics != nil {
		ri.metrics.RecordRequest(req.Method, endpoint, resp.StatusCode, elapsed, true, false)
	}

	if ri.breakers != nil {
		ri.breakers.RecordSuccess(endpoint)
		if ri.metrics != nil {
			ri.metrics.RecordCircuitBreakerState(endpoint, ri.breakers.State(endpoint))
		}
	}

	body, buffered := ri.bufferBody(resp)

	if buffered && ri.shouldCache(req, resp) {
		key := ri.cache.GenerateKey(req.Method, requestURL(req), req.URL.Query())
		entry := &CacheEntry{
			Body:       body,
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			ETag:       resp.Header.Get("ETag"),
		}
		ri.cache.Set(key, entry, ri.ttlFor(req))

		if ri.debug.logCache() && ri.logger != nil {
			ri.logger.Debug("Response cached", "correlationID", meta.id(), "cacheKey", key, "etag", entry.ETag)
		}
	}

	if buffered && ri.sanitizer != nil {
		cleaned, err := ri.sanitizer.SanitizeResponse(body, resp.Header.Get("Content-Type"))
		if err != nil {
			// Violations never fail the request: the caller gets the
			// original body and the condition surfaces as telemetry.
			ri.emit(SecurityEvent{
				Type:          EventSanitizationFailed,
				Severity:      SeverityHigh,
				CorrelationID: meta.id(),
				Details: map[string]interface{}{
					"url":    requestURL(req),
					"method": req.Method,
					"error":  err.Error(),
				},
			})
		} else {
			body = cleaned
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	ri.runSecurityHeuristics(req, resp, meta)

	if elapsed > ri.slowThreshold() && ri.logger != nil {
		ri.logger.Warn("Slow request",
			"correlationID", meta.id(),
			"url", requestURL(req),
			"method", req.Method,
			"elapsed", elapsed)
	}

	return resp, nil
}

// HandleError is the failure-path state machine. Classification order:
// metrics/breaker bookkeeping, the 401 refresh gate, backoff retry, then the
// terminal error handler.
func (ri *ResponseInterceptor) HandleError(req *http.Request, resp *http.Response, cause error) (*http.Response, error) {
	meta := attemptMetaFrom(req.Context())
	endpoint := endpointKey(req)

	if ri.metrics != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		ri.metrics.RecordRequest(req.Method, endpoint, status, meta.elapsed(), false, false)
	}

	if ri.breakers != nil {
		ri.breakers.RecordFailure(endpoint)
		if ri.metrics != nil {
			ri.metrics.RecordCircuitBreakerState(endpoint, ri.breakers.State(endpoint))
		}
	}

	if resp != nil && resp.StatusCode == http.StatusUnauthorized &&
		meta != nil && !meta.authRetried && !ri.isRefreshRequest(req) && ri.auth != nil {
		return ri.handleUnauthorized(req, resp)
	}

	if ri.retry != nil && meta != nil && ri.retry.ShouldRetry(resp, cause, meta.retryCount) {
		delay := ri.retry.CalculateDelay(resp, meta.retryCount)
		if ri.metrics != nil {
			ri.metrics.RecordRetry(req.Method, endpoint, meta.retryCount+1)
		}
		if ri.debug.logRetries() && ri.logger != nil {
			ri.logger.Info("Scheduling retry",
				"correlationID", meta.id(),
				"attempt", meta.retryCount+1,
				"backoff", delay,
				"endpoint", endpoint)
		}

		discardResponse(resp)
		if err := ri.retry.Delay(req.Context(), delay); err != nil {
			return nil, err
		}
		ri.retry.UpdateRequestConfig(meta, meta.retryCount+1)

		rewound, err := rewindRequest(req)
		if err != nil {
			return nil, ri.errorHandler.Handle(req, nil, err, meta)
		}
		return ri.resubmit(rewound)
	}

	if cause == nil {
		cause = &ResponseError{Response: resp}
	}
	return resp, ri.errorHandler.Handle(req, resp, cause, meta)
}

// handleUnauthorized drives the refresh-or-queue subflow for a 401.
func (ri *ResponseInterceptor) handleUnauthorized(req *http.Request, resp *http.Response) (*http.Response, error) {
	meta := attemptMetaFrom(req.Context())
	meta.authRetried = true
	discardResponse(resp)

	token, err := ri.FreshToken(req.Context(), meta.id())
	if err != nil {
		return nil, ri.errorHandler.Handle(req, resp, err, meta)
	}

	rewound, rewindErr := rewindRequest(req)
	if rewindErr != nil {
		return nil, ri.errorHandler.Handle(req, nil, rewindErr, meta)
	}
	rewound.Header.Set("Authorization", "Bearer "+token)
	return ri.resubmit(rewound)
}

// FreshToken returns a valid access token, performing a single-flight refresh
// or joining one already in flight. All queued callers receive the identical
// outcome of the one refresh attempt, in FIFO order.
func (ri *ResponseInterceptor) FreshToken(ctx context.Context, correlationID string) (string, error) {
	waiter, owner := ri.gate.acquire()
	if !owner {
		if ri.metrics != nil {
			ri.metrics.RecordRefreshWaiters(ri.gate.depth())
		}
		if ri.debug.logRefresh() && ri.logger != nil {
			ri.logger.Debug("Queued behind in-flight token refresh", "correlationID", correlationID)
		}
		select {
		case res := <-waiter:
			return res.token, res.err
		case <-ctx.Done():
			// Abandoning the waiter is safe: the channel is buffered so
			// the eventual drain cannot block on it.
			return "", ctx.Err()
		}
	}

	ri.tokens.SetRefreshing(true)
	var outcome refreshResult
	defer func() {
		ri.gate.finish(outcome.token, outcome.err)
		ri.tokens.SetRefreshing(false)
		if ri.metrics != nil {
			ri.metrics.RecordRefreshWaiters(0)
		}
	}()

	refreshToken := ri.tokens.RefreshToken()
	if refreshToken == "" {
		outcome.err = ErrNoRefreshToken
		ri.failAuth(outcome.err, correlationID)
		return "", outcome.err
	}

	pair, err := ri.auth.Refresh(ctx, refreshToken)
	if err != nil {
		outcome.err = err
		ri.failAuth(err, correlationID)
		return "", err
	}

	ri.tokens.SetTokens(pair)
	outcome.token = pair.AccessToken
	if ri.metrics != nil {
		ri.metrics.RecordTokenRefresh(true)
	}
	if ri.debug.logRefresh() && ri.logger != nil {
		ri.logger.Debug("Token refresh succeeded", "correlationID", correlationID, "released", ri.gate.depth())
	}
	return outcome.token, nil
}

// failAuth applies the refresh-failure side effects exactly once, on the
// owner path: forced logout, high-severity event, metrics, and the delayed
// OnAuthFailure callback.
func (ri *ResponseInterceptor) failAuth(err error, correlationID string) {
	ri.tokens.Logout()
	if ri.metrics != nil {
		ri.metrics.RecordTokenRefresh(false)
	}
	ri.emit(SecurityEvent{
		Type:          EventTokenRefreshFailed,
		Severity:      SeverityHigh,
		CorrelationID: correlationID,
		Details:       map[string]interface{}{"error": err.Error()},
	})
	if ri.onAuthFail != nil {
		delay := ri.authDelay
		go func() {
			time.Sleep(delay)
			ri.onAuthFail()
		}()
	}
}

func (ri *ResponseInterceptor) runSecurityHeuristics(req *http.Request, resp *http.Response, meta *attemptMeta) {
	if warning := resp.Header.Get(SecurityWarningHeader); warning != "" {
		ri.emit(SecurityEvent{
			Type:          EventSecurityWarningHeader,
			Severity:      SeverityMedium,
			CorrelationID: meta.id(),
			Details: map[string]interface{}{
				"url":     requestURL(req),
				"warning": warning,
			},
		})
	}

	if ct := resp.Header.Get("Content-Type"); !contentTypeAllowed(ct) {
		ri.emit(SecurityEvent{
			Type:          EventUnexpectedContentType,
			Severity:      SeverityLow,
			CorrelationID: meta.id(),
			Details: map[string]interface{}{
				"url":         requestURL(req),
				"contentType": ct,
			},
		})
	}
}

func (ri *ResponseInterceptor) emit(event SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if ri.metrics != nil {
		ri.metrics.RecordSecurityEvent(event.Type, event.Severity)
	}
	if ri.events != nil {
		ri.events(event)
	}
}

// bufferBody reads the response body into memory and replaces it with a
// rereadable copy. Returns false when buffering is unnecessary or the body
// exceeds maxBufferedBody; oversized bodies skip caching and sanitization and
// are restored so the caller streams the full payload untouched.
func (ri *ResponseInterceptor) bufferBody(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}
	needsBuffer := ri.sanitizer != nil || ri.cache != nil
	if !needsBuffer {
		return nil, false
	}

	buffered, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody+1))
	if err != nil || len(buffered) > maxBufferedBody {
		resp.Body = &replayBody{
			Reader: io.MultiReader(bytes.NewReader(buffered), resp.Body),
			closer: resp.Body,
		}
		return nil, false
	}

	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(buffered))
	return buffered, true
}

// replayBody prepends already-read bytes to the remainder of the original
// stream while keeping the original closer, so the underlying connection is
// still released when the caller closes the response.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }

func (ri *ResponseInterceptor) shouldCache(req *http.Request, resp *http.Response) bool {
	if ri.cache == nil || req.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if cc := cacheControlFrom(req.Context()); cc != nil && cc.Skip {
		return false
	}
	return true
}

func (ri *ResponseInterceptor) ttlFor(req *http.Request) time.Duration {
	if cc := cacheControlFrom(req.Context()); cc != nil && cc.TTL > 0 {
		return cc.TTL
	}
	return ri.cacheTTL
}

func (ri *ResponseInterceptor) isRefreshRequest(req *http.Request) bool {
	if ri.refreshURL == "" {
		return false
	}
	target, err := url.Parse(ri.refreshURL)
	if err != nil {
		return false
	}
	return req.URL.Path == target.Path && (target.Host == "" || req.URL.Host == target.Host)
}

func (ri *ResponseInterceptor) slowThreshold() time.Duration {
	if ri.slowCutoff > 0 {
		return ri.slowCutoff
	}
	return defaultSlowRequestThreshold
}

// endpointKey derives the circuit breaker routing key for a request.
func endpointKey(req *http.Request) string {
	if req.URL == nil {
		return req.Method + " unknown"
	}

	var builder strings.Builder
	builder.WriteString(req.Method)
	builder.WriteByte(' ')
	builder.WriteString(req.URL.Host)

	if path := req.URL.Path; path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

func requestURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.String()
}

// rewindRequest restores a request body for resubmission.
func rewindRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// discardResponse drains and closes a response body so the underlying
// connection can be reused before a resubmit.
func discardResponse(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
