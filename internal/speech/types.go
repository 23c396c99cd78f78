package speech

import (
	"context"
	"errors"
)

// LanguageModelFreeForm asks the recognizer for unconstrained dictation
const LanguageModelFreeForm = "free_form"

// DefaultPrompt is shown by client-side recognizers while listening
const DefaultPrompt = "Speak now..."

var (
	// ErrNoSpeech is returned when a capture produced no usable text
	ErrNoSpeech = errors.New("no speech recognized")
	// ErrCancelled is returned when a capture was cancelled before finishing
	ErrCancelled = errors.New("recognition cancelled")
	// ErrCaptureClosed is returned when audio is written after Finish or Cancel
	ErrCaptureClosed = errors.New("capture closed")
)

// Request describes one recognition: the locale to recognize, a language
// model hint and the prompt a client-side recognizer displays.
type Request struct {
	Locale        string `json:"locale"`
	LanguageModel string `json:"language_model"`
	Prompt        string `json:"prompt"`
}

// DefaultRequest returns a free-form en-US request
func DefaultRequest() Request {
	return NewRequest("en-US", DefaultPrompt)
}

// NewRequest builds a free-form request, falling back to defaults for blank fields
func NewRequest(locale, prompt string) Request {
	if locale == "" {
		locale = "en-US"
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return Request{
		Locale:        locale,
		LanguageModel: LanguageModelFreeForm,
		Prompt:        prompt,
	}
}

// Recognizer turns captured audio into text
type Recognizer interface {
	// Start opens a capture for one utterance
	Start(ctx context.Context, req Request) (Capture, error)
}

// Capture is one in-progress recognition
type Capture interface {
	// Write feeds raw audio in the configured encoding
	Write(audio []byte) error

	// SpeechEnded is closed once the speaker has gone quiet after talking
	SpeechEnded() <-chan struct{}

	// Finish stops capturing and returns candidate transcriptions, best
	// first. It returns ErrNoSpeech or ErrCancelled when there is no text.
	Finish(ctx context.Context) ([]string, error)

	// Cancel abandons the capture
	Cancel()
}
