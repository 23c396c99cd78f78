package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
)

// maxBodyBytes caps how much of a response body is kept in memory
const maxBodyBytes = 4 << 20

// Response is a 2xx answer from the remote endpoint
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Client issues single JSON POST requests. It never retries.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithCircuitBreaker guards calls with cb. Connection failures and 5xx
// responses count as failures; 4xx responses do not.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a transport client. Construct one per process and share it.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     observability.Component("transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send POSTs body as JSON to endpoint with the given headers.
// Non-2xx answers and connection failures are returned as *Error.
func (c *Client) Send(ctx context.Context, endpoint string, headers map[string]string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, newConnectionError(err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Cancellation says nothing about the remote service
			c.release()
			return nil, newCancelledError(ctxErr)
		}
		c.record(false)
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Request failed")
		return nil, newConnectionError(resilience.NewRetryableError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.release()
			return nil, newCancelledError(ctxErr)
		}
		c.record(false)
		return nil, newConnectionError(resilience.NewRetryableError(fmt.Errorf("failed to read response: %w", err)))
	}

	c.record(resp.StatusCode < 500)

	status := reasonPhrase(resp)
	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("latency", time.Since(start)).
		Msg("Request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp.StatusCode, status, raw)
	}

	return &Response{StatusCode: resp.StatusCode, Status: status, Body: raw}, nil
}

func (c *Client) record(success bool) {
	if c.breaker == nil {
		return
	}
	c.breaker.RecordResult(success)
	if !success {
		observability.IncrementCircuitBreakerFailures(c.breaker.Name())
	}
}

// release gives back the breaker slot of a request the caller abandoned
func (c *Client) release() {
	if c.breaker != nil {
		c.breaker.Release()
	}
}

// reasonPhrase returns the status text without the numeric code
func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if text := strings.TrimPrefix(resp.Status, prefix); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// IsCircuitOpen reports whether err came from an open circuit breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}
