package summarization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
	"github.com/lexiqai/voice-notes/internal/transport"
)

const (
	// DefaultBaseURL is the provider's API root
	DefaultBaseURL = "https://api.openai.com/"
	// CompletionsPath is appended to the base URL
	CompletionsPath = "v1/chat/completions"

	// NoSummary is returned when a 2xx response carries no content
	NoSummary = "No summary received."
)

// Sender issues one JSON POST. *transport.Client implements it.
type Sender interface {
	Send(ctx context.Context, endpoint string, headers map[string]string, body any) (*transport.Response, error)
}

// Repository turns text into a summary through a chat-completions endpoint.
// Every outcome is normalized into a Result; nothing is returned as an error.
type Repository struct {
	sender   Sender
	endpoint string
	builder  Builder
	retry    *resilience.RetryConfig
	logger   zerolog.Logger
}

// Option configures a Repository
type Option func(*Repository)

// WithBaseURL points the repository at another OpenAI-compatible API root
func WithBaseURL(baseURL string) Option {
	return func(r *Repository) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		r.endpoint = baseURL + CompletionsPath
	}
}

// WithBuilder sets the model and temperature used for requests
func WithBuilder(b Builder) Option {
	return func(r *Repository) {
		r.builder = b
	}
}

// WithRetry enables retries of temporary failures. The default makes a single attempt.
func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(r *Repository) {
		if cfg != nil {
			r.retry = cfg
		}
	}
}

// WithLogger sets the repository logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a repository that sends through sender
func NewRepository(sender Sender, opts ...Option) *Repository {
	r := &Repository{
		sender:   sender,
		endpoint: DefaultBaseURL + CompletionsPath,
		builder:  DefaultBuilder(),
		retry:    resilience.NoRetry(),
		logger:   observability.Component("summarization"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoint returns the full completions URL
func (r *Repository) Endpoint() string {
	return r.endpoint
}

// Summarize requests a summary of text. It blocks until the call resolves,
// fails, or ctx is done.
func (r *Repository) Summarize(ctx context.Context, apiKey, text string) (result Result) {
	req, err := r.builder.Build(apiKey, text)
	if err != nil {
		observability.RecordSummaryRejected()
		r.logger.Debug().Err(err).Msg("Summarization rejected before sending")
		return Failure(err.Error())
	}

	timer := observability.StartSummary()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			observability.RecordError("panic", "summarization")
			r.logger.Error().Interface("panic", p).Msg("Summarization panicked")
			result = Failure(fmt.Sprintf("Exception during summarization: %v", p))
		}
		timer.Done(result.OK())
	}()

	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	var resp *transport.Response
	attempts := 0
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		attempts++
		var sendErr error
		resp, sendErr = r.sender.Send(ctx, r.endpoint, headers, req)
		return sendErr
	}, r.retry, isTemporary)

	result = r.interpret(resp, err)

	event := r.logger.Info()
	if !result.OK() {
		event = r.logger.Warn().Err(err)
	}
	event.
		Bool("success", result.OK()).
		Int("attempts", attempts).
		Int("input_chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Summarization completed")

	return result
}

func (r *Repository) interpret(resp *transport.Response, err error) Result {
	if err == nil {
		return parseSuccess(resp)
	}

	if terr, ok := transport.AsError(err); ok && terr.IsHTTP() {
		return Failure(parseFailure(terr))
	}

	observability.RecordError("transport", "summarization")
	return Failure("Exception during summarization: " + causeMessage(err))
}

// parseSuccess treats an empty or malformed 2xx body as "no summary", not as an error
func parseSuccess(resp *transport.Response) Result {
	if resp == nil {
		return Success(NoSummary)
	}

	var body ChatResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Success(NoSummary)
	}

	content, ok := body.firstContent()
	content = strings.TrimSpace(content)
	if !ok || content == "" {
		return Success(NoSummary)
	}
	return Success(content)
}

func parseFailure(terr *transport.Error) string {
	raw := bytes.TrimSpace(terr.Body)
	if len(raw) == 0 {
		return "API Error: " + terr.Status
	}

	var body ChatResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Sprintf("API Error: %d - %s. Unable to parse error response.", terr.StatusCode, terr.Status)
	}
	if body.Error != nil && body.Error.Message != "" {
		return "API Error: " + body.Error.Message
	}
	return "API Error: " + terr.Status
}

// causeMessage prefers the underlying cause over the transport wrapper text
func causeMessage(err error) string {
	if terr, ok := transport.AsError(err); ok && terr.Err != nil {
		return terr.Err.Error()
	}
	return err.Error()
}

func isTemporary(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Temporary()
	}
	return resilience.IsRetryableNetworkError(err)
}
