package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/voice-notes/internal/resilience"
)

func TestSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Expected auth header 'Bearer k', got '%s'", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got '%s'", got)
		}
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil || body["hello"] != "world" {
			t.Errorf("Unexpected request body: %s", raw)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Send(context.Background(), server.URL, map[string]string{"Authorization": "Bearer k"}, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Status != "OK" {
		t.Errorf("Expected status text 'OK', got '%s'", resp.Status)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Unexpected body: %s", resp.Body)
	}
}

func TestSend_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	_, err := NewClient().Send(context.Background(), server.URL, nil, struct{}{})

	terr, ok := AsError(err)
	if !ok {
		t.Fatalf("Expected *Error, got %T (%v)", err, err)
	}
	if terr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", terr.StatusCode)
	}
	if terr.Status != "Unauthorized" {
		t.Errorf("Expected status text 'Unauthorized', got '%s'", terr.Status)
	}
	if string(terr.Body) != `{"error":{"message":"bad key"}}` {
		t.Errorf("Expected raw body to be kept, got %s", terr.Body)
	}
	if terr.Temporary() {
		t.Error("Expected 401 not to be temporary")
	}
}

func TestSend_ServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient().Send(context.Background(), server.URL, nil, struct{}{})
	terr, ok := AsError(err)
	if !ok || !terr.Temporary() {
		t.Errorf("Expected temporary *Error, got %v", err)
	}
}

func TestSend_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient().Send(context.Background(), url, nil, struct{}{})
	terr, ok := AsError(err)
	if !ok {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if terr.IsHTTP() {
		t.Error("Expected a connection-level error")
	}
	if !terr.Temporary() {
		t.Error("Expected connection failure to be temporary")
	}
	if !resilience.IsRetryable(err) {
		t.Error("Expected connection failure to be marked retryable")
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cb := resilience.NewCircuitBreaker("test", 1, time.Minute)
	client := NewClient(WithCircuitBreaker(cb))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Send(ctx, server.URL, nil, struct{}{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	terr, _ := AsError(err)
	if terr == nil || terr.Temporary() {
		t.Error("Expected cancellation not to be temporary")
	}
	if cb.GetState() != resilience.StateClosed {
		t.Error("Expected cancellation not to trip the breaker")
	}
}

func TestSend_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cb := resilience.NewCircuitBreaker("test", 2, time.Minute)
	client := NewClient(WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, _ = client.Send(context.Background(), server.URL, nil, struct{}{})
	}

	_, err := client.Send(context.Background(), server.URL, nil, struct{}{})
	if !IsCircuitOpen(err) {
		t.Errorf("Expected open circuit error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls to reach the server, got %d", calls.Load())
	}
}

func TestSend_CancelledHalfOpenRequestFreesBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			// Hold the half-open request until the caller gives up
			<-r.Context().Done()
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	cb := resilience.NewCircuitBreaker("test", 1, 100*time.Millisecond)
	client := NewClient(WithCircuitBreaker(cb))

	_, _ = client.Send(context.Background(), server.URL, nil, struct{}{})
	if cb.GetState() != resilience.StateOpen {
		t.Fatalf("Expected breaker to open, got %s", cb.GetState())
	}
	time.Sleep(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.Send(ctx, server.URL, nil, struct{}{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected the half-open request to be cut short, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := client.Send(context.Background(), server.URL, nil, struct{}{}); err != nil {
			t.Fatalf("Send %d to a healthy upstream failed: %v", i, err)
		}
	}
	if cb.GetState() != resilience.StateClosed {
		t.Errorf("Expected breaker to close once the upstream recovered, got %s", cb.GetState())
	}
}

func TestSend_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cb := resilience.NewCircuitBreaker("test", 1, time.Minute)
	client := NewClient(WithCircuitBreaker(cb))

	for i := 0; i < 3; i++ {
		_, _ = client.Send(context.Background(), server.URL, nil, struct{}{})
	}
	if cb.GetState() != resilience.StateClosed {
		t.Error("Expected 4xx responses to leave the breaker closed")
	}
}
