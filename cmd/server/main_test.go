package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/voice-notes/internal/resilience"
)

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker("openai", 1, 50*time.Millisecond)
	check := breakerCheck(cb)

	if healthy, err := check(context.Background()); !healthy || err != nil {
		t.Errorf("Expected a closed breaker to be healthy, got %v %v", healthy, err)
	}

	cb.RecordResult(false)
	healthy, err := check(context.Background())
	if healthy || err == nil {
		t.Fatal("Expected an open breaker to be unhealthy")
	}
	if !strings.Contains(err.Error(), "1 of 1 requests failed") {
		t.Errorf("Expected failure stats in message, got %q", err.Error())
	}

	// Half-open with every trial request outstanding
	time.Sleep(80 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("Trial request %d rejected: %v", i, err)
		}
	}
	healthy, err = check(context.Background())
	if healthy || err == nil || !strings.Contains(err.Error(), "half_open") {
		t.Errorf("Expected a saturated half-open breaker to be unhealthy, got %v %v", healthy, err)
	}
}
