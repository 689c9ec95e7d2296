package kaahttp

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func makeResponse(method string, statusCode int) *http.Response {
	req, _ := http.NewRequest(method, "https://api.kaapro.dev/v1/properties", nil)
	return &http.Response{
		StatusCode: statusCode,
		Header:     http.Header{},
		Request:    req,
	}
}

func TestRetryManagerShouldRetry(t *testing.T) {
	m := NewRetryManager(3, time.Millisecond, time.Second, 2.0, 0)

	tests := []struct {
		name       string
		resp       *http.Response
		err        error
		retryCount int
		want       bool
	}{
		{"network error", nil, errors.New("connection reset"), 0, true},
		{"server error", makeResponse("GET", 500), nil, 0, true},
		{"too many requests", makeResponse("GET", 429), nil, 0, true},
		{"client error", makeResponse("GET", 404), nil, 0, false},
		{"success", makeResponse("GET", 200), nil, 0, false},
		{"ceiling reached", makeResponse("GET", 500), nil, 3, false},
		{"non-idempotent method", makeResponse("POST", 500), nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.ShouldRetry(tt.resp, tt.err, tt.retryCount); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryManagerCalculateDelayHonorsRetryAfter(t *testing.T) {
	m := NewRetryManager(3, time.Millisecond, time.Minute, 2.0, 0)

	resp := makeResponse("GET", 429)
	resp.Header.Set("Retry-After", "2")

	if got := m.CalculateDelay(resp, 0); got != 2*time.Second {
		t.Errorf("Expected Retry-After to win, got %v", got)
	}
}

func TestRetryManagerCalculateDelayBackoff(t *testing.T) {
	m := NewRetryManager(5, 100*time.Millisecond, time.Second, 2.0, 0)

	d0 := m.CalculateDelay(nil, 0)
	d2 := m.CalculateDelay(nil, 2)

	if d0 != 100*time.Millisecond {
		t.Errorf("Expected 100ms for attempt 0, got %v", d0)
	}
	if d2 != 400*time.Millisecond {
		t.Errorf("Expected 400ms for attempt 2, got %v", d2)
	}

	dMax := m.CalculateDelay(nil, 10)
	if dMax > time.Second {
		t.Errorf("Expected delay capped at maxBackoff, got %v", dMax)
	}
}

func TestRetryManagerDelayContextCancellation(t *testing.T) {
	m := NewRetryManager(3, time.Millisecond, time.Second, 2.0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Delay(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRetryManagerUpdateRequestConfig(t *testing.T) {
	m := NewRetryManager(3, time.Millisecond, time.Second, 2.0, 0)

	meta := &attemptMeta{}
	m.UpdateRequestConfig(meta, 2)

	if meta.retryCount != 2 {
		t.Errorf("Expected retryCount=2, got %d", meta.retryCount)
	}

	m.UpdateRequestConfig(nil, 5) // must not panic
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"7200", time.Hour}, // capped
		{"garbage", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got <= 0 || got > 31*time.Second {
		t.Errorf("parseRetryAfter(HTTP-date) = %v, want ~30s", got)
	}
}

func TestRetryBudget(t *testing.T) {
	rb := NewRetryBudget(2, time.Hour)

	if !rb.Allow() {
		t.Error("Expected first retry allowed")
	}
	if !rb.Allow() {
		t.Error("Expected second retry allowed")
	}
	if rb.Allow() {
		t.Error("Expected third retry denied")
	}

	current, max, _ := rb.Stats()
	if max != 2 {
		t.Errorf("Expected max=2, got %d", max)
	}
	if current < 2 {
		t.Errorf("Expected current >= 2, got %d", current)
	}
}

func TestRetryBudgetWindowReset(t *testing.T) {
	rb := NewRetryBudget(1, 20*time.Millisecond)

	if !rb.Allow() {
		t.Error("Expected first retry allowed")
	}
	if rb.Allow() {
		t.Error("Expected budget exhausted")
	}

	time.Sleep(30 * time.Millisecond)

	if !rb.Allow() {
		t.Error("Expected budget reset after window")
	}
}

func TestRetryManagerBudgetDeniesRetry(t *testing.T) {
	m := NewRetryManager(5, time.Millisecond, time.Second, 2.0, 0)
	m.budget = NewRetryBudget(1, time.Hour)

	resp := makeResponse("GET", 500)
	if !m.ShouldRetry(resp, nil, 0) {
		t.Error("Expected first retry allowed")
	}
	if m.ShouldRetry(resp, nil, 1) {
		t.Error("Expected retry denied once budget is spent")
	}
}

func TestDefaultIsIdempotent(t *testing.T) {
	idempotent := []string{"GET", "HEAD", "PUT", "DELETE", "OPTIONS"}
	for _, method := range idempotent {
		if !DefaultIsIdempotent(method) {
			t.Errorf("Expected %s to be idempotent", method)
		}
	}

	if DefaultIsIdempotent("POST") || DefaultIsIdempotent("PATCH") {
		t.Error("Expected POST/PATCH to be non-idempotent")
	}
}
