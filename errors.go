package kaahttp

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error type categories used by ClientError.
const (
	ErrorTypeNetwork     = "Network"
	ErrorTypeServer      = "Server"
	ErrorTypeClient      = "Client"
	ErrorTypeRateLimit   = "RateLimit"
	ErrorTypeCircuitOpen = "CircuitOpen"
	ErrorTypeAuth        = "Auth"
	ErrorTypeValidation  = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker for the endpoint is open
	ErrCircuitOpen = errors.New("kaahttp: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting
	ErrRateLimited = errors.New("kaahttp: rate limited")

	// ErrNoRefreshToken is returned when a refresh is attempted without a stored refresh token
	ErrNoRefreshToken = errors.New("kaahttp: no refresh token")

	// ErrRefreshFailed wraps the underlying cause when the refresh endpoint fails
	ErrRefreshFailed = errors.New("kaahttp: token refresh failed")
)

// ClientError is the normalized error delivered to callers on terminal
// failures. It carries the correlation id so the failure can be traced back
// through logs and security events.
type ClientError struct {
	Type          string
	Message       string
	Cause         error
	CorrelationID string
	Method        string
	URL           string
	StatusCode    int
	Attempt       int
	MaxRetries    int
	Timestamp     time.Time
	Duration      time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("[%s] %s", e.CorrelationID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// ResponseError wraps a non-2xx response so it can travel the error path
// while the underlying *http.Response stays available for classification.
type ResponseError struct {
	Response *http.Response
}

func (e *ResponseError) Error() string {
	if e == nil || e.Response == nil {
		return "kaahttp: response error"
	}
	return fmt.Sprintf("kaahttp: unexpected status %d for %s %s",
		e.Response.StatusCode, e.Response.Request.Method, e.Response.Request.URL)
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Returns true for network errors, 5xx responses,
// rate limiting and open circuits; false for other 4xx and configuration
// errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return clientErr.StatusCode == http.StatusTooManyRequests
		default:
			return false
		}
	}

	return false
}

// ErrorHandler normalizes terminal failures into *ClientError. It is the
// last stop on the error path: everything that was not recovered by refresh
// or retry flows through Handle exactly once.
type ErrorHandler struct {
	maxRetries int
	logger     Logger
}

// Handle converts err into a *ClientError tagged with the request's
// correlation id. Already-normalized errors pass through with the
// correlation id filled in.
func (h *ErrorHandler) Handle(req *http.Request, resp *http.Response, err error, meta *attemptMeta) error {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		if clientErr.CorrelationID == "" {
			clientErr.CorrelationID = meta.id()
		}
		return clientErr
	}

	normalized := &ClientError{
		Message:       "request failed",
		Cause:         err,
		CorrelationID: meta.id(),
		Method:        req.Method,
		URL:           req.URL.String(),
		Timestamp:     time.Now(),
		Duration:      meta.elapsed(),
		MaxRetries:    h.maxRetries,
	}
	if meta != nil {
		normalized.Attempt = meta.retryCount
	}

	switch {
	case resp != nil && resp.StatusCode >= 500:
		normalized.Type = ErrorTypeServer
		normalized.Message = "server error"
		normalized.StatusCode = resp.StatusCode
	case resp != nil && resp.StatusCode == http.StatusUnauthorized:
		normalized.Type = ErrorTypeAuth
		normalized.Message = "authentication failed"
		normalized.StatusCode = resp.StatusCode
	case resp != nil:
		normalized.Type = ErrorTypeClient
		normalized.Message = "client error"
		normalized.StatusCode = resp.StatusCode
	default:
		normalized.Type = ErrorTypeNetwork
		normalized.Message = "network request failed"
	}

	if h.logger != nil {
		h.logger.Error("Request failed", "correlationID", meta.id(), "type", normalized.Type, "error", normalized.Error())
	}

	return normalized
}
