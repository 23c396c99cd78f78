package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexiqai/voice-notes/internal/speech"
	"github.com/lexiqai/voice-notes/internal/summarization"
)

// User-facing messages
const (
	MsgNothingToSummarize = "Nothing to summarize."
	MsgPermissionDenied   = "Audio permission denied. Cannot record."
	MsgUnknownFailure     = "An unknown error occurred during summarization."
)

// MsgMissingCredential is shown when no usable API key is configured
var MsgMissingCredential = summarization.ErrMissingCredential.Error()

// State is the durable, observable part of a note session
type State struct {
	Transcript  string `json:"transcript"`
	Summary     string `json:"summary"`
	InFlight    bool   `json:"in_flight"`
	UserMessage string `json:"user_message,omitempty"`
}

// CanSummarize reports whether a summarize command would start a call,
// ignoring credential configuration.
func (s State) CanSummarize() bool {
	return !s.InFlight && strings.TrimSpace(s.Transcript) != ""
}

// EventKind identifies a one-shot UI event
type EventKind string

const (
	EventRequestPermission EventKind = "request_permission"
	EventLaunchRecognizer  EventKind = "launch_recognizer"
)

// UiEvent asks the UI to perform a transient action once
type UiEvent struct {
	Kind EventKind `json:"event"`
	// Recognizer is set for EventLaunchRecognizer
	Recognizer *speech.Request `json:"recognizer,omitempty"`
}

// Summarizer produces a summary or a failure reason, never an error
type Summarizer interface {
	Summarize(ctx context.Context, apiKey, text string) summarization.Result
}

// StalePolicy decides what happens to a summary that completes after the
// transcript it was computed from has changed.
type StalePolicy int

const (
	// CommitStale writes the late result anyway
	CommitStale StalePolicy = iota
	// DiscardStale drops results for an outdated transcript
	DiscardStale
)

func (p StalePolicy) String() string {
	if p == DiscardStale {
		return "discard"
	}
	return "commit"
}

// ParseStalePolicy maps "commit" or "discard" to a StalePolicy
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "commit":
		return CommitStale, nil
	case "discard":
		return DiscardStale, nil
	default:
		return CommitStale, fmt.Errorf("unknown stale policy %q", s)
	}
}

// Policy groups the session's concurrency decisions
type Policy struct {
	Stale StalePolicy
	// CancelOnClear aborts an in-flight summary when the note is cleared
	CancelOnClear bool
}
