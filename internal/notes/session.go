package notes

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/speech"
	"github.com/lexiqai/voice-notes/internal/summarization"
)

// Options configures a Session
type Options struct {
	// APIKey is handed to the summarizer. Blank or placeholder keys make
	// Summarize report a missing credential instead of calling out.
	APIKey string
	// Recognizer is attached to every launch event
	Recognizer speech.Request
	Policy     Policy
	Logger     *zerolog.Logger
}

// Session owns one note: transcript, summary, in-flight flag and user
// message. Commands may be called from any goroutine; the only other
// writer is the completion of an in-flight summarization.
type Session struct {
	summarizer Summarizer
	apiKey     string
	recognizer speech.Request
	policy     Policy
	logger     zerolog.Logger

	events eventHub

	mu        sync.Mutex
	state     State
	revision  uint64 // bumped on every transcript change
	task      *Task
	observers map[int]chan State
	nextObs   int
	closed    bool
}

// NewSession creates an idle, empty session
func NewSession(summarizer Summarizer, opts Options) *Session {
	logger := observability.Component("notes")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Recognizer == (speech.Request{}) {
		opts.Recognizer = speech.DefaultRequest()
	}

	return &Session{
		summarizer: summarizer,
		apiKey:     opts.APIKey,
		recognizer: opts.Recognizer,
		policy:     opts.Policy,
		logger:     logger,
		observers:  make(map[int]chan State),
	}
}

// Snapshot returns the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a state observer. The current state is delivered
// first, then one snapshot per mutation. A slow observer loses the
// oldest undelivered snapshot, never the newest.
func (s *Session) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	ch <- s.state

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if obs, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(obs)
		}
	}
}

// ObserveEvents attaches the single one-shot event observer, replacing
// (and closing the channel of) any previous one. Events emitted before
// this call are not delivered.
func (s *Session) ObserveEvents() (<-chan UiEvent, func()) {
	return s.events.observe()
}

// AppendTranscript appends recognized or typed text and invalidates the summary.
// It is allowed while a summarization is in flight.
func (s *Session) AppendTranscript(delta string) {
	s.mutate(func(st *State) {
		st.Transcript += delta
		st.Summary = ""
		s.revision++
	})
}

// ReplaceTranscript sets the whole transcript after a user edit and
// invalidates the summary.
func (s *Session) ReplaceTranscript(text string) {
	s.mutate(func(st *State) {
		if st.Transcript != text {
			s.revision++
		}
		st.Transcript = text
		st.Summary = ""
	})
}

// OnRecognitionResult appends the best candidate of a finished recognition.
// Failures and cancellations leave the note untouched.
func (s *Session) OnRecognitionResult(candidates []string, err error) {
	if err != nil {
		s.logger.Info().Err(err).Msg("Speech recognition returned no text")
		return
	}
	if len(candidates) == 0 {
		s.logger.Debug().Msg("Speech recognition returned no candidates")
		return
	}
	s.AppendTranscript(candidates[0])
}

// ClearAll empties transcript, summary and user message in one update.
// An in-flight summarization keeps running unless CancelOnClear is set.
func (s *Session) ClearAll() {
	var toCancel *Task

	s.mutate(func(st *State) {
		st.Transcript = ""
		st.Summary = ""
		st.UserMessage = ""
		s.revision++
		if s.policy.CancelOnClear && s.task != nil {
			toCancel = s.task
		}
	})

	if toCancel != nil {
		s.logger.Debug().Msg("Cancelling in-flight summarization on clear")
		toCancel.Cancel()
	}
}

// RequestAudioPermission asks the UI to request microphone access
func (s *Session) RequestAudioPermission() {
	s.emit(UiEvent{Kind: EventRequestPermission})
}

// OnPermissionResult launches the recognizer when granted, otherwise
// tells the user why recording cannot start.
func (s *Session) OnPermissionResult(granted bool) {
	if granted {
		req := s.recognizer
		s.emit(UiEvent{Kind: EventLaunchRecognizer, Recognizer: &req})
		return
	}
	s.setUserMessage(MsgPermissionDenied)
}

// Summarize starts summarizing the current transcript and returns the
// task handle, or nil when nothing was started: a call is already in
// flight, the transcript is blank, or no credential is configured. The
// latter two set a user message.
func (s *Session) Summarize(ctx context.Context) *Task {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.state.InFlight {
		s.mu.Unlock()
		s.logger.Debug().Msg("Summarization already in flight")
		return nil
	}
	if strings.TrimSpace(s.state.Transcript) == "" {
		s.state.UserMessage = MsgNothingToSummarize
		s.publishLocked()
		s.mu.Unlock()
		observability.RecordSummaryRejected()
		return nil
	}
	if !summarization.CredentialConfigured(s.apiKey) {
		s.state.UserMessage = MsgMissingCredential
		s.publishLocked()
		s.mu.Unlock()
		observability.RecordSummaryRejected()
		return nil
	}

	task := newTask(ctx, s.revision)
	text := s.state.Transcript
	s.task = task
	s.state.InFlight = true
	s.state.Summary = ""
	s.publishLocked()
	s.mu.Unlock()

	go s.run(task, text)
	return task
}

func (s *Session) run(task *Task, text string) {
	result := summarization.Failure(MsgUnknownFailure)
	defer func() {
		if p := recover(); p != nil {
			observability.RecordError("panic", "notes")
			s.logger.Error().Interface("panic", p).Msg("Summarizer panicked")
			result = summarization.Failure(MsgUnknownFailure)
		}
		s.complete(task, result)
	}()

	result = s.summarizer.Summarize(task.ctx, s.apiKey, text)
}

// complete applies a finished task and always returns the session to idle
func (s *Session) complete(task *Task, result summarization.Result) {
	s.mu.Lock()

	cancelled := task.ctx.Err() != nil
	stale := task.revision != s.revision
	commit := !s.closed && !cancelled && !(stale && s.policy.Stale == DiscardStale)

	if s.task == task {
		s.task = nil
		s.state.InFlight = false
	}

	if commit {
		if result.OK() {
			s.state.Summary = result.Summary()
			s.state.UserMessage = ""
		} else {
			s.state.Summary = ""
			reason := result.Reason()
			if reason == "" {
				reason = MsgUnknownFailure
			}
			s.state.UserMessage = reason
		}
	}

	task.result = result
	task.committed = commit
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Bool("success", result.OK()).
		Bool("committed", commit).
		Bool("stale", stale).
		Bool("cancelled", cancelled).
		Msg("Summarization finished")

	task.cancel()
	close(task.done)
}

// DismissUserMessage clears the pending user message
func (s *Session) DismissUserMessage() {
	s.setUserMessage("")
}

// TakeUserMessage returns the pending user message and clears it, so a
// message is delivered at most once.
func (s *Session) TakeUserMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.state.UserMessage
	if msg != "" {
		s.state.UserMessage = ""
		s.publishLocked()
	}
	return msg
}

// Close cancels any in-flight summarization and closes all observers.
// Later commands are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	task := s.task
	for id, ch := range s.observers {
		close(ch)
		delete(s.observers, id)
	}
	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	s.events.close()
}

func (s *Session) setUserMessage(msg string) {
	s.mutate(func(st *State) {
		st.UserMessage = msg
	})
}

func (s *Session) emit(ev UiEvent) {
	if !s.events.emit(ev) {
		s.logger.Debug().Str("event", string(ev.Kind)).Msg("UI event dropped, no observer")
	}
}

// mutate applies fn under the lock and publishes exactly one snapshot
func (s *Session) mutate(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	fn(&s.state)
	s.publishLocked()
}

// publishLocked must be called with mu held
func (s *Session) publishLocked() {
	snapshot := s.state
	for _, ch := range s.observers {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
