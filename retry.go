package kaahttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	internalbackoff "github.com/Kelvince01/kaa-sub016/internal/backoff"
)

// BackoffStrategy selects the jitter algorithm used between retries.
type BackoffStrategy int

const (
	ExponentialJitter BackoffStrategy = iota
	DecorrelatedJitter
)

// RetryManager decides retry eligibility and backoff delay for failed
// requests. It never resubmits anything itself; the interceptor owns
// dispatch.
type RetryManager struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	calculator        *internalbackoff.Calculator
	isIdempotent      func(method string) bool
	budget            *RetryBudget
}

// NewRetryManager creates a retry manager with exponential jitter backoff
// that only retries idempotent methods by default.
func NewRetryManager(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *RetryManager {
	return NewRetryManagerWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewRetryManagerWithStrategy creates a retry manager with a specific backoff strategy.
func NewRetryManagerWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *RetryManager {
	m := &RetryManager{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		isIdempotent:      DefaultIsIdempotent,
	}

	switch strategy {
	case DecorrelatedJitter:
		m.calculator = internalbackoff.GetDecorrelatedJitterCalculator()
	default:
		m.calculator = internalbackoff.GetExponentialJitterCalculator()
	}

	return m
}

// ShouldRetry reports whether the failed request is eligible for another
// attempt given its retry count so far.
func (m *RetryManager) ShouldRetry(resp *http.Response, err error, retryCount int) bool {
	if retryCount >= m.maxRetries {
		return false
	}

	if resp != nil && resp.Request != nil && !m.isIdempotent(resp.Request.Method) {
		return false
	}

	if m.budget != nil && !m.budget.Allow() {
		return false
	}

	if err != nil {
		// Network errors are generally retryable
		return true
	}
	if resp != nil {
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	}
	return false
}

// CalculateDelay returns the backoff before the next attempt, honoring a
// Retry-After header when the server sent one.
func (m *RetryManager) CalculateDelay(resp *http.Response, retryCount int) time.Duration {
	if resp != nil {
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return delay
		}
	}
	return m.calculator.Calculate(retryCount, m.initialBackoff, m.maxBackoff, m.backoffMultiplier, m.jitter)
}

// Delay waits d, aborting early when the context is cancelled.
func (m *RetryManager) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateRequestConfig records the new retry count on the request's attempt
// metadata before resubmission.
func (m *RetryManager) UpdateRequestConfig(meta *attemptMeta, retryCount int) {
	if meta == nil {
		return
	}
	meta.retryCount = retryCount
}

// MaxRetries returns the configured attempt ceiling.
func (m *RetryManager) MaxRetries() int {
	return m.maxRetries
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// parseRetryAfter parses the Retry-After header value. It supports both
// delay-seconds and HTTP-date formats, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget bounds the total number of retries in a sliding window so a
// dependency outage cannot multiply traffic.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a new retry budget tracker.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		current:     0,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow checks if a retry is allowed under the current budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	newCurrent := atomic.AddInt64(&rb.current, 1)
	return newCurrent <= rb.maxRetries
}

// Stats returns current retry budget usage.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
