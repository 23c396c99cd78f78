package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/notes"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/speech"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	stateBuffer    = 16
	finishTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// Browser clients are served from other origins during development
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Options configures the sessions a Handler creates
type Options struct {
	APIKey     string
	Recognizer speech.Request
	Policy     notes.Policy
}

// Handler serves note sessions. Each websocket connection owns one
// notes.Session for its lifetime.
type Handler struct {
	summarizer notes.Summarizer
	opts       Options
	// speech is nil when server-side recognition is disabled
	speech speech.Recognizer
	logger zerolog.Logger
}

// NewHandler creates a gateway handler. recognizer may be nil.
func NewHandler(summarizer notes.Summarizer, opts Options, recognizer speech.Recognizer) *Handler {
	return &Handler{
		summarizer: summarizer,
		opts:       opts,
		speech:     recognizer,
		logger:     observability.Component("gateway"),
	}
}

func (h *Handler) newSession(logger zerolog.Logger) *notes.Session {
	return notes.NewSession(h.summarizer, notes.Options{
		APIKey:     h.opts.APIKey,
		Recognizer: h.opts.Recognizer,
		Policy:     h.opts.Policy,
		Logger:     &logger,
	})
}

// ServeWS upgrades the request and runs a note session until the client disconnects
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	sessionID := observability.NewSessionID()
	logger := observability.ForSession(sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc := &noteConn{
		handler: h,
		conn:    conn,
		session: h.newSession(logger),
		logger:  logger,
		ctx:     ctx,
		errors:  make(chan ErrorMessage, 8),
		done:    make(chan struct{}),
	}

	observability.RecordSessionOpen()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Note session opened")

	nc.run()

	observability.RecordSessionClose()
	logger.Info().Msg("Note session closed")
}

// noteConn binds one websocket connection to one session
type noteConn struct {
	handler *Handler
	conn    *websocket.Conn
	session *notes.Session
	logger  zerolog.Logger
	ctx     context.Context

	mu      sync.Mutex
	capture speech.Capture

	errors chan ErrorMessage
	done   chan struct{}
}

func (c *noteConn) run() {
	states, unsubscribe := c.session.Subscribe(stateBuffer)
	events, detach := c.session.ObserveEvents()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(states, events)
	}()

	c.readLoop()

	close(c.done)
	c.cancelCapture()
	detach()
	unsubscribe()
	c.session.Close()
	wg.Wait()
}

// readLoop dispatches client frames until the connection fails
func (c *noteConn) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var intent Intent
			if err := json.Unmarshal(data, &intent); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to parse intent")
				c.reject(errMalformedIntent)
				continue
			}
			c.dispatch(intent)
		case websocket.BinaryMessage:
			c.handleAudio(data)
		}
	}
}

func (c *noteConn) dispatch(intent Intent) {
	c.logger.Debug().Str("intent", intent.Type).Msg("Intent received")

	switch intent.Type {
	case IntentAppend:
		c.session.AppendTranscript(intent.Text)
	case IntentEdit:
		c.session.ReplaceTranscript(intent.Text)
	case IntentClear:
		c.session.ClearAll()
	case IntentRecord:
		c.session.RequestAudioPermission()
	case IntentPermissionResult:
		c.session.OnPermissionResult(intent.Granted)
	case IntentRecognitionResult:
		var err error
		if intent.Error != "" {
			err = errors.New(intent.Error)
		}
		observability.RecordRecognition(recognitionOutcome(intent.Candidates, err))
		c.session.OnRecognitionResult(intent.Candidates, err)
	case IntentSummarize:
		c.session.Summarize(c.ctx)
	case IntentDismissMessage:
		c.session.DismissUserMessage()
	case IntentAudioStart:
		c.startCapture()
	case IntentAudioStop:
		c.stopCapture()
	default:
		c.reject(errUnknownIntent)
	}
}

func recognitionOutcome(candidates []string, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(candidates) == 0:
		return "no_speech"
	default:
		return "success"
	}
}

func (c *noteConn) startCapture() {
	if c.handler.speech == nil {
		c.reject(errRecognitionDisabled)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		c.reject(errRecognitionActive)
		return
	}

	capture, err := c.handler.speech.Start(c.ctx, c.handler.opts.Recognizer)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to start capture")
		observability.RecordError("capture_start", "gateway")
		c.reject(errRecognitionFailed)
		return
	}
	c.capture = capture

	// Stop on its own once the speaker goes quiet
	go func() {
		select {
		case <-capture.SpeechEnded():
			c.logger.Debug().Msg("End of speech detected")
			c.finishCapture(capture)
		case <-c.done:
		}
	}()
}

func (c *noteConn) stopCapture() {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()

	if capture == nil || !c.releaseCapture(capture) {
		c.reject(errRecognitionIdle)
		return
	}
	// Finishing can take a while; keep reading intents meanwhile
	go c.completeCapture(capture)
}

// finishCapture completes capture once, whichever of end-of-speech or
// audio_stop comes first.
func (c *noteConn) finishCapture(capture speech.Capture) {
	if c.releaseCapture(capture) {
		c.completeCapture(capture)
	}
}

// releaseCapture detaches capture from the connection. It reports false
// if another path already did.
func (c *noteConn) releaseCapture(capture speech.Capture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != capture {
		return false
	}
	c.capture = nil
	return true
}

func (c *noteConn) completeCapture(capture speech.Capture) {
	ctx, cancel := context.WithTimeout(c.ctx, finishTimeout)
	defer cancel()

	candidates, err := capture.Finish(ctx)
	c.session.OnRecognitionResult(candidates, err)
}

func (c *noteConn) cancelCapture() {
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	c.mu.Unlock()

	if capture != nil {
		capture.Cancel()
	}
}

func (c *noteConn) handleAudio(data []byte) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()

	if capture == nil {
		c.logger.Debug().Int("bytes", len(data)).Msg("Dropping audio, no capture open")
		return
	}
	if err := capture.Write(data); err != nil && !errors.Is(err, speech.ErrCaptureClosed) {
		c.logger.Warn().Err(err).Msg("Audio rejected by capture")
		c.reject(errAudioRejected)
	}
}

// reject queues an error message without blocking the read loop
func (c *noteConn) reject(msg string) {
	select {
	case c.errors <- ErrorMessage{Type: TypeError, Error: msg}:
	default:
		c.logger.Warn().Str("error", msg).Msg("Error queue full, dropping")
	}
}

// writeLoop is the only goroutine writing to the connection
func (c *noteConn) writeLoop(states <-chan notes.State, events <-chan notes.UiEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error

		select {
		case st, ok := <-states:
			if !ok {
				return
			}
			err = c.writeJSON(newStateMessage(st))
		case ev, ok := <-events:
			if !ok {
				// Detached; keep serving state until done
				events = nil
				continue
			}
			err = c.writeJSON(EventMessage{Type: TypeEvent, UiEvent: ev})
		case msg := <-c.errors:
			err = c.writeJSON(msg)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		if err != nil {
			c.logger.Warn().Err(err).Msg("WebSocket write failed")
			// Unblock the read loop
			c.conn.Close()
			return
		}
	}
}

func (c *noteConn) writeJSON(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}
