package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostSendsBearerAuthAndJSONBody(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AuthToken: "abc123"})
	err := c.Post(context.Background(), "events", map[string]any{"n": 1}, false, 1, "test")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer abc123")
	}
	if gotPath != "/events" {
		t.Fatalf("path = %q, want %q", gotPath, "/events")
	}
}

func TestPostRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerMinute: 6000})
	err := c.Post(context.Background(), "events", map[string]any{}, true, 5, "flaky")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestPostWithoutRetryGivesUpAfterOneAttempt(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerMinute: 6000})
	err := c.Post(context.Background(), "events", map[string]any{}, false, 5, "no-retry")
	if err == nil {
		t.Fatalf("Post() error = nil, want non-nil for persistent 500")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1 (retry=false caps at a single attempt)", got)
	}
}

func TestRetryBackoffCapsAtFiveSeconds(t *testing.T) {
	if got := retryBackoff(0); got != 100*time.Millisecond {
		t.Fatalf("retryBackoff(0) = %v, want 100ms", got)
	}
	if got := retryBackoff(20); got != 5*time.Second {
		t.Fatalf("retryBackoff(20) = %v, want capped at 5s", got)
	}
}
