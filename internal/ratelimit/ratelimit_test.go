package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func get(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

// TestRateLimitRetry tests that a 429 response triggers automatic retry
func TestRateLimitRetry(t *testing.T) {
	requestCount := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&requestCount, 1)
		if count == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(Config{
		MaxRetries:   5,
		BaseDelay:    10 * time.Millisecond, // Fast for testing
		EnableJitter: false,                 // Disable jitter for predictable tests
	})

	resp, err := client.Do(context.Background(), get(server.URL))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	if requestCount != 2 {
		t.Errorf("expected 2 requests (1 retry), got %d", requestCount)
	}
}

// TestRateLimitExponentialBackoff tests that consecutive 429s increase the delay
func TestRateLimitExponentialBackoff(t *testing.T) {
	requestTimes := make([]time.Time, 0, 6)
	requestCount := int32(0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestTimes = append(requestTimes, time.Now())
		count := atomic.AddInt32(&requestCount, 1)
		if count <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	baseDelay := 50 * time.Millisecond
	client := NewClient(Config{
		MaxRetries:   5,
		BaseDelay:    baseDelay,
		MaxDelay:     800 * time.Millisecond,
		EnableJitter: false,
	})

	resp, err := client.Do(context.Background(), get(server.URL))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if len(requestTimes) < 4 {
		t.Fatalf("expected 4 requests, got %d", len(requestTimes))
	}

	// Expected delays: 50ms, 100ms, 200ms (1x, 2x, 4x base)
	expectedDelays := []time.Duration{
		baseDelay,
		baseDelay * 2,
		baseDelay * 4,
	}

	for i := 0; i < len(expectedDelays); i++ {
		actualDelay := requestTimes[i+1].Sub(requestTimes[i])
		expected := expectedDelays[i]
		// Allow generous tolerance for timing variations
		minDelay := time.Duration(float64(expected) * 0.7)
		maxDelay := time.Duration(float64(expected) * 1.5)

		if actualDelay < minDelay || actualDelay > maxDelay {
			t.Errorf("delay %d: expected ~%v, got %v (allowed %v-%v)",
				i, expected, actualDelay, minDelay, maxDelay)
		}
	}
}

// TestRateLimitMaxRetries tests that exhausted retries fail with RateLimitError
func TestRateLimitMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{
		MaxRetries:   2,
		BaseDelay:    5 * time.Millisecond,
		EnableJitter: false,
	})

	_, err := client.Do(context.Background(), get(server.URL))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("unexpected error message: %v", err)
	}
}

// TestRateLimitRetryAfterHeader tests that Retry-After overrides the computed backoff
func TestRateLimitRetryAfterHeader(t *testing.T) {
	requestTimes := make([]time.Time, 0, 2)
	requestCount := int32(0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestTimes = append(requestTimes, time.Now())
		if atomic.AddInt32(&requestCount, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{
		MaxRetries: 3,
		// Base delay far larger than Retry-After; the header must win.
		BaseDelay:    10 * time.Second,
		EnableJitter: false,
	})

	resp, err := client.Do(context.Background(), get(server.URL))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	delay := requestTimes[1].Sub(requestTimes[0])
	if delay < 900*time.Millisecond || delay > 2*time.Second {
		t.Errorf("expected ~1s delay from Retry-After, got %v", delay)
	}
}

// TestRateLimitContextCancellation tests that a canceled context aborts the backoff wait
func TestRateLimitContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{
		MaxRetries:   5,
		BaseDelay:    10 * time.Second,
		EnableJitter: false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Do(ctx, get(server.URL))
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
}

// TestRateLimitFreshBodyPerAttempt tests that each retry re-builds the request
func TestRateLimitFreshBodyPerAttempt(t *testing.T) {
	bodies := make([]string, 0, 2)
	requestCount := int32(0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if atomic.AddInt32(&requestCount, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{
		MaxRetries:   2,
		BaseDelay:    5 * time.Millisecond,
		EnableJitter: false,
	})

	builds := int32(0)
	resp, err := client.Do(context.Background(), func() (*http.Request, error) {
		atomic.AddInt32(&builds, 1)
		return http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"title":"x"}`))
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if builds != 2 {
		t.Errorf("expected build func called twice, got %d", builds)
	}
	for i, b := range bodies {
		if b != `{"title":"x"}` {
			t.Errorf("request %d: body not replayed, got %q", i, b)
		}
	}
}

// TestParseRetryAfter tests both supported Retry-After formats
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  *time.Duration
	}{
		{name: "empty", value: "", want: nil},
		{name: "seconds", value: "5", want: durationPtr(5 * time.Second)},
		{name: "zero seconds", value: "0", want: durationPtr(0)},
		{name: "negative seconds", value: "-3", want: nil},
		{name: "garbage", value: "soon", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRetryAfter(tt.value)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, *got, *tt.want)
			}
		})
	}

	t.Run("http date", func(t *testing.T) {
		future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
		got := ParseRetryAfter(future)
		if got == nil {
			t.Fatal("expected a duration for HTTP-date format")
		}
		if *got <= 0 || *got > 4*time.Second {
			t.Errorf("unexpected duration %v", *got)
		}
	})

	t.Run("past http date", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
		got := ParseRetryAfter(past)
		if got == nil || *got != 0 {
			t.Errorf("expected zero duration for past date, got %v", got)
		}
	})
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
