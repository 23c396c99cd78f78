package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/gateway"
	"github.com/lexiqai/voice-notes/internal/notes"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
	"github.com/lexiqai/voice-notes/internal/speech"
	"github.com/lexiqai/voice-notes/internal/summarization"
	"github.com/lexiqai/voice-notes/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	stalePolicy, err := notes.ParseStalePolicy(cfg.SummaryStalePolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid stale policy")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("openai_base_url", cfg.OpenAIBaseURL).
		Str("model", cfg.OpenAIModel).
		Bool("credential_configured", summarization.CredentialConfigured(cfg.OpenAIAPIKey)).
		Str("stale_policy", stalePolicy.String()).
		Bool("cancel_on_clear", cfg.SummaryCancelOnClear).
		Bool("server_recognition", cfg.RecognitionEnabled()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Notes Service starting")

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	// Summarization endpoint
	openaiBreaker := newBreaker("openai", cfg.CircuitBreakerMaxFailures, resetTimeout)
	client := transport.NewClient(
		transport.WithTimeout(cfg.SummaryTimeout()),
		transport.WithCircuitBreaker(openaiBreaker),
		transport.WithLogger(observability.Component("transport")),
	)
	repo := summarization.NewRepository(client,
		summarization.WithBaseURL(cfg.OpenAIBaseURL),
		summarization.WithBuilder(summarization.Builder{
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
		}),
		summarization.WithRetry(&resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		}),
	)
	logger.Info().Str("endpoint", repo.Endpoint()).Msg("Summarization endpoint configured")

	// Optional server-side recognition
	var recognizer speech.Recognizer
	var deepgramBreaker *resilience.CircuitBreaker
	if cfg.RecognitionEnabled() {
		deepgramBreaker = newBreaker("deepgram", cfg.CircuitBreakerMaxFailures, resetTimeout)
		recognizer = speech.NewDeepgramRecognizer(speech.DeepgramConfigFrom(cfg), deepgramBreaker)
	}

	handler := gateway.NewHandler(repo, gateway.Options{
		APIKey:     cfg.OpenAIAPIKey,
		Recognizer: speech.NewRequest(cfg.RecognizerLocale, cfg.RecognizerPrompt),
		Policy: notes.Policy{
			Stale:         stalePolicy,
			CancelOnClear: cfg.SummaryCancelOnClear,
		},
	}, recognizer)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/notes", handler.ServeWS)
	mux.HandleFunc("/v1/summaries", handler.ServeSummary)
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"openai": breakerCheck(openaiBreaker),
	}
	if deepgramBreaker != nil {
		checks["deepgram"] = breakerCheck(deepgramBreaker)
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: websocket sessions are long-lived
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/notes", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// newBreaker creates a circuit breaker that reports its state to Prometheus
func newBreaker(name string, maxFailures int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, maxFailures, resetTimeout)
	logger := observability.Component("resilience")
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState(name, int(cb.GetState()))
	return cb
}

// breakerCheck reports a dependency unhealthy while its breaker turns requests away
func breakerCheck(cb *resilience.CircuitBreaker) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if !cb.Rejecting() {
			return true, nil
		}
		state, requests, failures, rate := cb.GetStats()
		return false, fmt.Errorf("circuit breaker %s is %s: %d of %d requests failed (%.1f%%)",
			cb.Name(), state, failures, requests, rate)
	}
}
