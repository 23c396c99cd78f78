package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Stale result policies for summaries that complete after the transcript changed.
const (
	StalePolicyCommit  = "commit"
	StalePolicyDiscard = "discard"
)

// Audio encodings accepted for server-side recognition.
const (
	EncodingLinear16 = "linear16"
	EncodingMulaw    = "mulaw"
)

// Config holds all configuration for the voice notes service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// OpenAI-compatible summarization endpoint.
	// A missing key is not a startup error: summarize requests report it to the user instead.
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL     string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/"`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAITimeout     int     `envconfig:"OPENAI_TIMEOUT" default:"30"` // seconds

	// Note session behaviour
	SummaryStalePolicy   string `envconfig:"SUMMARY_STALE_POLICY" default:"commit"`    // commit, discard
	SummaryCancelOnClear bool   `envconfig:"SUMMARY_CANCEL_ON_CLEAR" default:"false"` // Abort in-flight summary on clear

	// Recognizer request sent to clients with the launch event
	RecognizerLocale string `envconfig:"RECOGNIZER_LOCALE" default:"en-US"`
	RecognizerPrompt string `envconfig:"RECOGNIZER_PROMPT" default:"Speak now..."`

	// Deepgram server-side recognition (optional; disabled when the key is empty)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Audio processing configuration
	AudioEncoding      string  `envconfig:"AUDIO_ENCODING" default:"linear16"`    // linear16, mulaw
	AudioSampleRate    int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`    // Hz
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`     // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"50"`      // 20ms frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"1"`             // 1 disables summary retries
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated and bounded fields
func (c *Config) Validate() error {
	switch c.SummaryStalePolicy {
	case StalePolicyCommit, StalePolicyDiscard:
	default:
		return fmt.Errorf("SUMMARY_STALE_POLICY must be %q or %q, got %q", StalePolicyCommit, StalePolicyDiscard, c.SummaryStalePolicy)
	}

	switch c.AudioEncoding {
	case EncodingLinear16, EncodingMulaw:
	default:
		return fmt.Errorf("AUDIO_ENCODING must be %q or %q, got %q", EncodingLinear16, EncodingMulaw, c.AudioEncoding)
	}

	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if !strings.HasSuffix(c.OpenAIBaseURL, "/") {
		c.OpenAIBaseURL += "/"
	}

	return nil
}

// SummaryTimeout returns the per-request timeout for the summarization endpoint
func (c *Config) SummaryTimeout() time.Duration {
	return time.Duration(c.OpenAITimeout) * time.Second
}

// RecognitionEnabled reports whether server-side Deepgram recognition is configured
func (c *Config) RecognitionEnabled() bool {
	return c.DeepgramAPIKey != ""
}
