package summarization

import (
	"strings"
)

const (
	// DefaultModel is the chat model used when none is configured
	DefaultModel = "gpt-3.5-turbo"
	// DefaultTemperature is the default creativity parameter
	DefaultTemperature = 0.7

	// SystemInstruction is sent as the system message of every request
	SystemInstruction = "You are a helpful assistant that summarizes text concisely."
	// Directive prefixes the user's text
	Directive = "Summarize the following text: "

	// PlaceholderPrefix marks an API key that was never filled in
	PlaceholderPrefix = "DEFAULT_"
)

// ErrorKind classifies request validation failures
type ErrorKind int

const (
	MissingCredential ErrorKind = iota + 1
	EmptyInput
)

func (k ErrorKind) String() string {
	switch k {
	case MissingCredential:
		return "missing_credential"
	case EmptyInput:
		return "empty_input"
	default:
		return "unknown"
	}
}

// ValidationError is returned by Build before any network I/O.
// Its message is safe to show to users.
type ValidationError struct {
	Kind ErrorKind
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingCredential:
		return "Error: OpenAI API Key not configured."
	case EmptyInput:
		return "Nothing to summarize."
	default:
		return "Invalid summarization request."
	}
}

// Is matches any *ValidationError of the same kind
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrMissingCredential error = &ValidationError{Kind: MissingCredential}
	ErrEmptyInput        error = &ValidationError{Kind: EmptyInput}
)

// CredentialConfigured reports whether apiKey is neither blank nor a placeholder
func CredentialConfigured(apiKey string) bool {
	return strings.TrimSpace(apiKey) != "" && !strings.HasPrefix(apiKey, PlaceholderPrefix)
}

// Builder produces chat requests for a fixed model and temperature
type Builder struct {
	Model       string
	Temperature float64
}

// DefaultBuilder returns a Builder with the default model and temperature
func DefaultBuilder() Builder {
	return Builder{Model: DefaultModel, Temperature: DefaultTemperature}
}

// Build validates the inputs and returns the request payload.
// The credential is checked first.
func (b Builder) Build(apiKey, text string) (ChatRequest, error) {
	if !CredentialConfigured(apiKey) {
		return ChatRequest{}, ErrMissingCredential
	}
	if strings.TrimSpace(text) == "" {
		return ChatRequest{}, ErrEmptyInput
	}

	model := b.Model
	if model == "" {
		model = DefaultModel
	}

	return ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: SystemInstruction},
			{Role: RoleUser, Content: Directive + text},
		},
		Temperature: b.Temperature,
	}, nil
}

// Build uses the default model and temperature
func Build(apiKey, text string) (ChatRequest, error) {
	return DefaultBuilder().Build(apiKey, text)
}
