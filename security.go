package kaahttp

import (
	"strings"
	"time"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Security event types emitted by the interceptor.
const (
	EventTokenRefreshFailed    = "TOKEN_REFRESH_FAILED"
	EventSanitizationFailed    = "SANITIZATION_FAILED"
	EventSecurityWarningHeader = "SECURITY_WARNING_HEADER"
	EventUnexpectedContentType = "UNEXPECTED_CONTENT_TYPE"
)

// SecurityWarningHeader is the response header inspected by the success-path
// heuristics.
const SecurityWarningHeader = "X-Security-Warning"

// SecurityEvent is side-channel telemetry for suspicious or failed security
// conditions. Events never alter control flow.
type SecurityEvent struct {
	Type          string
	Details       map[string]interface{}
	CorrelationID string
	Timestamp     time.Time
	Severity      Severity
}

// SecurityEventSink receives security events. Implementations must be safe
// for concurrent use and must not block.
type SecurityEventSink func(SecurityEvent)

// allowedContentTypePrefixes is the allow-list of MIME families a response
// may carry without triggering a low-severity event.
var allowedContentTypePrefixes = []string{
	"application/json",
	"application/xml",
	"application/pdf",
	"application/octet-stream",
	"text/",
	"image/",
	"audio/",
	"video/",
	"multipart/",
}

// contentTypeAllowed reports whether ct belongs to an expected MIME family.
// An absent content type is treated as allowed; some endpoints legitimately
// return 204s without one.
func contentTypeAllowed(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, prefix := range allowedContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}
