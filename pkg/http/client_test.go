package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	return NewClientWithBackoff(baseURL, 5*time.Second, nil, 10*time.Millisecond, 50*time.Millisecond)
}

func TestHttpClient_Retry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Get(context.Background(), "/", nil)
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestHttpClient_RetryOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Get(context.Background(), "/", nil); err != nil {
		t.Fatalf("Request failed after 429 retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestHttpClient_PostBodyReplayedOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		bodies = append(bodies, string(buf))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Post(context.Background(), "/", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(bodies))
	}
	if bodies[0] != bodies[1] || bodies[1] != `{"a":"b"}` {
		t.Errorf("Body was not replayed intact: %v", bodies)
	}
}

func TestHttpClient_APIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"msg":"Order not found"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Get(context.Background(), "/order", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if StatusOf(err) != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", StatusOf(err))
	}
}

func TestHttpClient_CircuitBreaker(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	// Policy is 5 failures out of 10; 6 requests trip the breaker.
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	// The next request should fail immediately without reaching the server.
	startAttempts := attempts
	_, err := client.Get(context.Background(), "/", nil)
	if err == nil {
		t.Error("Expected error due to open circuit breaker, got nil")
	}

	if attempts != startAttempts {
		t.Errorf("Server was reached even though circuit should be open. Attempts: %d", attempts)
	}
}
