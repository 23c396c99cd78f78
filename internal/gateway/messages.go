package gateway

import (
	"github.com/lexiqai/voice-notes/internal/notes"
)

// Client intents
const (
	IntentAppend            = "append"
	IntentEdit              = "edit"
	IntentClear             = "clear"
	IntentRecord            = "record"
	IntentPermissionResult  = "permission_result"
	IntentRecognitionResult = "recognition_result"
	IntentSummarize         = "summarize"
	IntentDismissMessage    = "dismiss_message"
	IntentAudioStart        = "audio_start"
	IntentAudioStop         = "audio_stop"
)

// Server message types
const (
	TypeState = "state"
	TypeEvent = "event"
	TypeError = "error"
)

// Intent is a JSON command sent by the client
type Intent struct {
	Type string `json:"type"`

	// Text is the delta for append and the full transcript for edit
	Text string `json:"text,omitempty"`

	// Granted answers a request_permission event
	Granted bool `json:"granted,omitempty"`

	// Candidates and Error carry a client-side recognition outcome
	Candidates []string `json:"candidates,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// StateMessage is pushed after every state change
type StateMessage struct {
	Type string `json:"type"`
	notes.State
	CanSummarize bool `json:"can_summarize"`
}

func newStateMessage(st notes.State) StateMessage {
	return StateMessage{Type: TypeState, State: st, CanSummarize: st.CanSummarize()}
}

// EventMessage carries a one-shot UI event
type EventMessage struct {
	Type string `json:"type"`
	notes.UiEvent
}

// ErrorMessage reports a rejected intent. Messages are fixed strings,
// never internal error text.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Client-facing intent errors
const (
	errMalformedIntent     = "Malformed message."
	errUnknownIntent       = "Unknown message type."
	errRecognitionDisabled = "Server-side recognition is not configured."
	errRecognitionActive   = "Recording is already in progress."
	errRecognitionIdle     = "No recording in progress."
	errRecognitionFailed   = "Could not start recording."
	errAudioRejected       = "Audio could not be processed."
)
