package kaahttp

import (
	"context"
	"time"
)

// Option represents a configuration option for the Client.
type Option func(*Client)

// Context keys for per-request control.
type contextKey string

const (
	cacheControlKey contextKey = "kaahttp_cache_control"
	attemptMetaKey  contextKey = "kaahttp_attempt_meta"
)

// CacheControl holds per-request cache options carried in the context.
type CacheControl struct {
	Skip bool
	TTL  time.Duration
}

// WithContextCacheDisabled marks the request so its response bypasses the cache.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Skip: true})
}

// WithContextCacheTTL overrides the cache TTL for a single request.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{TTL: ttl})
}

func cacheControlFrom(ctx context.Context) *CacheControl {
	cc, _ := ctx.Value(cacheControlKey).(*CacheControl)
	return cc
}

// attemptMeta is the per-request correlation id, start timestamp and retry
// bookkeeping attached to the outgoing request context. The retry path
// mutates retryCount; the refresh gate sets authRetried so a request is
// retried for auth at most once.
type attemptMeta struct {
	correlationID string
	start         time.Time
	retryCount    int
	authRetried   bool
}

func withAttemptMeta(ctx context.Context, meta *attemptMeta) context.Context {
	return context.WithValue(ctx, attemptMetaKey, meta)
}

func attemptMetaFrom(ctx context.Context) *attemptMeta {
	meta, _ := ctx.Value(attemptMetaKey).(*attemptMeta)
	return meta
}

// elapsed returns the time since the request started, or 0 when the start
// timestamp was never attached.
func (m *attemptMeta) elapsed() time.Duration {
	if m == nil || m.start.IsZero() {
		return 0
	}
	return time.Since(m.start)
}

func (m *attemptMeta) id() string {
	if m == nil {
		return ""
	}
	return m.correlationID
}
