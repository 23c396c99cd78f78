package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
)

const breakerName = "deepgram"

// DeepgramConfig configures the Deepgram live recognizer
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Encoding   string // audio.EncodingLinear16 or audio.EncodingMulaw
	SampleRate int
	// BufferSize bounds the audio held while the stream reconnects
	BufferSize int
	VAD        *audio.VADConfig
	Reconnect  *resilience.ReconnectConfig
	// QuietPeriod is how long Finish waits for trailing results
	QuietPeriod time.Duration
}

// DeepgramConfigFrom maps service configuration onto a DeepgramConfig
func DeepgramConfigFrom(cfg *config.Config) DeepgramConfig {
	return DeepgramConfig{
		APIKey:     cfg.DeepgramAPIKey,
		Model:      cfg.DeepgramModel,
		Encoding:   cfg.AudioEncoding,
		SampleRate: cfg.AudioSampleRate,
		BufferSize: cfg.AudioBufferSize,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       audio.FrameSizeFor(cfg.AudioSampleRate),
		},
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
		QuietPeriod: 500 * time.Millisecond,
	}
}

// stream is the part of the Deepgram live client a capture drives
type stream interface {
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb *callbackHandler) (stream, error)

// callbackHandler embeds the SDK's default handler and overrides the
// events a capture cares about.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	capture *deepgramCapture
}

// Message forwards transcription results to the capture
func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil {
		return nil
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return nil
		}
		alt := msg.Channel.Alternatives[0]
		h.capture.onTranscript(alt.Transcript, msg.IsFinal, alt.Confidence)
	default:
		h.capture.logger.Debug().Str("type", msg.Type).Msg("Ignoring Deepgram message")
	}
	return nil
}

// UtteranceEnd marks the end of speech as detected by Deepgram
func (h *callbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.capture.signalSpeechEnded()
	return nil
}

// Error treats any stream error as a lost connection
func (h *callbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	h.capture.onStreamError(fmt.Errorf("deepgram stream error: %+v", errResp))
	return nil
}

// DeepgramRecognizer implements Recognizer with Deepgram's streaming API
type DeepgramRecognizer struct {
	cfg     DeepgramConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
	dial    dialFunc
}

// NewDeepgramRecognizer creates a recognizer. A nil breaker gets one with
// default limits.
func NewDeepgramRecognizer(cfg DeepgramConfig, breaker *resilience.CircuitBreaker) *DeepgramRecognizer {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(breakerName, 5, 30*time.Second)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = audio.EncodingLinear16
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8192
	}
	if cfg.VAD == nil {
		cfg.VAD = &audio.VADConfig{
			EnergyThreshold: 500,
			SilenceFrames:   50,
			FrameSize:       audio.FrameSizeFor(cfg.SampleRate),
		}
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 500 * time.Millisecond
	}

	return &DeepgramRecognizer{
		cfg:     cfg,
		breaker: breaker,
		logger:  observability.Component("speech"),
		dial:    dialDeepgram(cfg.APIKey),
	}
}

func dialDeepgram(apiKey string) dialFunc {
	return func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb *callbackHandler) (stream, error) {
		client, err := listenClient.NewWSUsingCallback(ctx, apiKey, nil, opts, cb)
		if err != nil {
			return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return nil, errors.New("failed to connect to Deepgram")
		}
		return client, nil
	}
}

// Start opens a live transcription stream for one utterance
func (r *DeepgramRecognizer) Start(ctx context.Context, req Request) (Capture, error) {
	captureCtx, cancel := context.WithCancel(ctx)

	c := &deepgramCapture{
		recognizer: r,
		ctx:        captureCtx,
		cancel:     cancel,
		logger:     r.logger.With().Str("locale", req.Locale).Logger(),
		options: &interfaces.LiveTranscriptionOptions{
			Model:          r.cfg.Model,
			Language:       req.Locale,
			Punctuate:      true,
			InterimResults: true,
			UtteranceEndMs: "1000",
			VadEvents:      true,
			Encoding:       r.cfg.Encoding,
			Channels:       1,
			SampleRate:     r.cfg.SampleRate,
		},
		vad:     audio.NewVADDetector(r.cfg.VAD),
		backlog: audio.NewRingBuffer(r.cfg.BufferSize),
		ended:   make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}

	if err := c.connect(captureCtx); err != nil {
		cancel()
		observability.RecordRecognition("error")
		return nil, err
	}

	c.logger.Info().Str("model", r.cfg.Model).Msg("Deepgram capture started")
	return c, nil
}

type deepgramCapture struct {
	recognizer *DeepgramRecognizer
	ctx        context.Context
	cancel     context.CancelFunc
	logger     zerolog.Logger
	options    *interfaces.LiveTranscriptionOptions

	sendMu sync.Mutex // serializes upstream writes

	mu           sync.Mutex
	stream       stream
	reconnecting bool
	finished     bool
	cancelled    bool
	failure      error
	finals       []string
	vad          *audio.VADDetector
	backlog      *audio.RingBuffer

	ended   chan struct{}
	endOnce sync.Once
	notify  chan struct{}
}

// connect dials a fresh stream through the circuit breaker
func (c *deepgramCapture) connect(ctx context.Context) error {
	r := c.recognizer
	cb := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		capture:                c,
	}

	var s stream
	err := r.breaker.Call(func() error {
		var dialErr error
		s, dialErr = r.dial(ctx, c.options, cb)
		return dialErr
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures(breakerName)
		return fmt.Errorf("failed to start Deepgram stream: %w", err)
	}

	c.mu.Lock()
	if c.cancelled || c.ctx.Err() != nil {
		// The capture ended while dialing
		c.mu.Unlock()
		s.Finish()
		return ErrCaptureClosed
	}
	c.stream = s
	c.mu.Unlock()
	return nil
}

func (c *deepgramCapture) Write(data []byte) error {
	c.mu.Lock()
	if c.finished || c.cancelled {
		c.mu.Unlock()
		return ErrCaptureClosed
	}
	if c.failure != nil {
		err := c.failure
		c.mu.Unlock()
		return err
	}

	samples, err := audio.Decode(c.recognizer.cfg.Encoding, data)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	observability.RecordAudioBytes(len(data))

	if c.vad.Feed(samples) && c.vad.HeardSpeech() {
		c.signalSpeechEnded()
	}
	if dropped := c.backlog.Write(data); dropped > 0 {
		c.logger.Warn().Int("bytes", dropped).Msg("Audio backlog full, dropping oldest audio")
	}
	c.mu.Unlock()

	c.flush()
	return nil
}

// flush sends the backlog upstream. On failure the audio goes back in
// front of anything buffered meanwhile and a reconnect is started.
func (c *deepgramCapture) flush() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	s := c.stream
	if s == nil || c.backlog.Len() == 0 {
		c.mu.Unlock()
		return
	}
	pending := c.backlog.Drain()
	c.mu.Unlock()

	err := c.recognizer.breaker.Call(func() error {
		if _, err := s.Write(pending); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	if err == nil {
		return
	}

	observability.IncrementCircuitBreakerFailures(breakerName)
	c.logger.Warn().Err(err).Msg("Deepgram stream lost")

	c.mu.Lock()
	defer c.mu.Unlock()
	newer := c.backlog.Drain()
	c.backlog.Write(pending)
	c.backlog.Write(newer)
	if c.stream == s {
		c.stream = nil
	}
	c.reconnectLocked()
}

func (c *deepgramCapture) onStreamError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	observability.RecordError("stream", "speech")
	c.logger.Error().Err(err).Msg("Deepgram error")
	c.recognizer.breaker.RecordResult(false)

	if c.finished || c.cancelled {
		return
	}
	c.stream = nil
	c.reconnectLocked()
}

// reconnectLocked starts at most one background reconnect. Must be called with mu held.
func (c *deepgramCapture) reconnectLocked() {
	if c.reconnecting || c.ctx.Err() != nil {
		return
	}
	c.reconnecting = true

	go func() {
		err := resilience.Reconnect(c.ctx, c.connect, c.recognizer.cfg.Reconnect, c.logger)

		c.mu.Lock()
		c.reconnecting = false
		if err != nil && c.ctx.Err() == nil {
			c.failure = fmt.Errorf("deepgram unavailable: %w", err)
			c.logger.Error().Err(err).Msg("Failed to reconnect Deepgram stream")
		}
		c.mu.Unlock()

		if err == nil {
			c.flush()
		}
	}()
}

func (c *deepgramCapture) onTranscript(text string, final bool, confidence float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if final {
		c.mu.Lock()
		c.finals = append(c.finals, text)
		c.mu.Unlock()
		c.logger.Debug().Str("text", text).Float64("confidence", confidence).Msg("Final transcription")
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *deepgramCapture) signalSpeechEnded() {
	c.endOnce.Do(func() {
		close(c.ended)
	})
}

func (c *deepgramCapture) SpeechEnded() <-chan struct{} {
	return c.ended
}

func (c *deepgramCapture) Finish(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	if c.finished {
		c.mu.Unlock()
		return nil, ErrCaptureClosed
	}
	c.finished = true
	c.mu.Unlock()

	c.flush()

	// The stream stays open so trailing results can still arrive
	cancelled := c.awaitQuiet(ctx)
	c.cancel()

	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s != nil {
		s.Finish()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cancelled {
		observability.RecordRecognition("cancelled")
		return nil, ErrCancelled
	}
	if len(c.finals) == 0 {
		if c.failure != nil {
			observability.RecordRecognition("error")
			return nil, c.failure
		}
		observability.RecordRecognition("no_speech")
		return nil, ErrNoSpeech
	}

	observability.RecordRecognition("success")
	return []string{strings.Join(c.finals, " ")}, nil
}

// awaitQuiet waits until no results arrive for a quiet period. It
// reports whether the wait was cut short by cancellation.
func (c *deepgramCapture) awaitQuiet(ctx context.Context) bool {
	timer := time.NewTimer(c.recognizer.cfg.QuietPeriod)
	defer timer.Stop()

	for {
		select {
		case <-c.notify:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.recognizer.cfg.QuietPeriod)
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		case <-c.ctx.Done():
			return true
		}
	}
}

func (c *deepgramCapture) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		s.Finish()
	}
}
