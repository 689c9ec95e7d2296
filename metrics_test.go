package kaahttp

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

func TestMetricsRecordRequest(t *testing.T) {
	mc := newTestCollector()
	endpoint := "GET api.kaapro.dev/v1/properties"

	mc.RecordRequest("GET", endpoint, 200, 50*time.Millisecond, true, false)
	mc.RecordRequest("GET", endpoint, 200, 5*time.Millisecond, true, true)
	mc.RecordRequest("GET", endpoint, 500, 10*time.Millisecond, false, false)

	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", endpoint, "success", "false")); got != 1 {
		t.Errorf("Expected 1 uncached success, got %f", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", endpoint, "success", "true")); got != 1 {
		t.Errorf("Expected 1 cached success, got %f", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "500", endpoint, "failure", "false")); got != 1 {
		t.Errorf("Expected 1 failure, got %f", got)
	}
}

func TestMetricsInFlightGauge(t *testing.T) {
	mc := newTestCollector()
	endpoint := "GET api.kaapro.dev/v1/properties"

	mc.RecordRequestStart("GET", endpoint)
	mc.RecordRequestStart("GET", endpoint)
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", endpoint)); got != 2 {
		t.Errorf("Expected 2 in flight, got %f", got)
	}

	mc.RecordRequestEnd("GET", endpoint)
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 in flight, got %f", got)
	}
}

func TestMetricsRetriesAndErrors(t *testing.T) {
	mc := newTestCollector()
	endpoint := "GET api.kaapro.dev/v1/properties"

	mc.RecordRetry("GET", endpoint, 1)
	mc.RecordRetry("GET", endpoint, 2)
	mc.RecordError(ErrorTypeServer, "GET", endpoint)

	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "1")); got != 1 {
		t.Errorf("Expected attempt-1 retry counted, got %f", got)
	}
	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "2")); got != 1 {
		t.Errorf("Expected attempt-2 retry counted, got %f", got)
	}
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeServer, "GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 server error, got %f", got)
	}
}

func TestMetricsCircuitBreakerState(t *testing.T) {
	mc := newTestCollector()
	endpoint := "GET api.kaapro.dev/v1/properties"

	mc.RecordCircuitBreakerState(endpoint, StateOpen)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues(endpoint)); got != 1 {
		t.Errorf("Expected open=1, got %f", got)
	}

	mc.RecordCircuitBreakerState(endpoint, StateHalfOpen)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues(endpoint)); got != 2 {
		t.Errorf("Expected half-open=2, got %f", got)
	}

	mc.RecordCircuitBreakerState(endpoint, StateClosed)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues(endpoint)); got != 0 {
		t.Errorf("Expected closed=0, got %f", got)
	}
}

func TestMetricsCache(t *testing.T) {
	mc := newTestCollector()
	endpoint := "GET api.kaapro.dev/v1/properties"

	mc.RecordCacheHit("GET", endpoint)
	mc.RecordCacheMiss("GET", endpoint)
	mc.RecordCacheSize("default", 7)

	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 hit, got %f", got)
	}
	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 miss, got %f", got)
	}
	if got := testutil.ToFloat64(mc.cacheSize.WithLabelValues("default")); got != 7 {
		t.Errorf("Expected size 7, got %f", got)
	}
}

func TestMetricsTokenRefreshAndWaiters(t *testing.T) {
	mc := newTestCollector()

	mc.RecordTokenRefresh(true)
	mc.RecordTokenRefresh(false)
	mc.RecordRefreshWaiters(3)

	if got := testutil.ToFloat64(mc.tokenRefreshTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful refresh, got %f", got)
	}
	if got := testutil.ToFloat64(mc.tokenRefreshTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed refresh, got %f", got)
	}
	if got := testutil.ToFloat64(mc.refreshWaiters); got != 3 {
		t.Errorf("Expected 3 waiters, got %f", got)
	}
}

func TestMetricsSecurityEvents(t *testing.T) {
	mc := newTestCollector()

	mc.RecordSecurityEvent(EventSanitizationFailed, SeverityHigh)
	mc.RecordSecurityEvent(EventSanitizationFailed, SeverityHigh)

	if got := testutil.ToFloat64(mc.securityEvents.WithLabelValues(EventSanitizationFailed, string(SeverityHigh))); got != 2 {
		t.Errorf("Expected 2 events, got %f", got)
	}
}

func TestMetricsNilCollectorSafe(t *testing.T) {
	var mc *MetricsCollector

	// All recorders must be no-ops on a nil collector.
	mc.RecordRequest("GET", "e", 200, time.Millisecond, true, false)
	mc.RecordRequestStart("GET", "e")
	mc.RecordRequestEnd("GET", "e")
	mc.RecordRetry("GET", "e", 1)
	mc.RecordCircuitBreakerState("e", StateOpen)
	mc.RecordCacheHit("GET", "e")
	mc.RecordCacheMiss("GET", "e")
	mc.RecordCacheSize("default", 1)
	mc.RecordTokenRefresh(true)
	mc.RecordRefreshWaiters(1)
	mc.RecordSecurityEvent(EventTokenRefreshFailed, SeverityHigh)
	mc.RecordError(ErrorTypeNetwork, "GET", "e")
}
