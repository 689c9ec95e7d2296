// Package kaahttp provides a resilient, authenticated HTTP client for the Kaa
// platform API with composable reliability primitives:
//
//   - Single-flight access-token refresh: any number of concurrent 401s cost
//     exactly one call to the refresh endpoint; everyone else queues and is
//     replayed with the new token
//   - Retries with exponential backoff + jitter and Retry-After support
//   - Per-endpoint circuit breakers (open / half-open / closed states)
//   - In-memory GET response caching with ETag revalidation and per-request
//     overrides
//   - Rate limiting (token bucket)
//   - Response sanitization and security-event heuristics
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - All refresh state owned by the client instance, never package globals,
//     so independent clients (and tests) cannot share a refresh cycle
//
// Typical usage:
//
//	store := kaahttp.NewMemoryTokenStore()
//	client := kaahttp.New(
//	    kaahttp.WithAuth(store, kaahttp.NewRefreshEndpoint("https://api.kaapro.dev/v1/auth/refresh", nil)),
//	    kaahttp.WithMaxRetries(3),
//	    kaahttp.WithCircuitBreaker(kaahttp.CircuitBreakerConfig{}),
//	    kaahttp.WithCache(5*time.Minute),
//	    kaahttp.WithMetrics(),
//	)
//	resp, err := client.Get(ctx, "https://api.kaapro.dev/v1/properties")
//
// A refresh failure is terminal for every caller blocked on it: the token
// store is logged out, a high severity security event is emitted and the
// OnAuthFailure callback (if any) fires after a short delay so notification
// layers can react before navigation.
package kaahttp
