package summarization

// Chat roles used in requests
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one message in a chat completion exchange
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completions request body
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// ChatResponse is the provider envelope for both success and failure.
// Failures carry Error and no Choices.
type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error"`
}

// Choice is one completion candidate
type Choice struct {
	Message *ChatMessage `json:"message"`
}

// APIError is the provider's structured error
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// firstContent returns the first choice's message content, if any
func (r *ChatResponse) firstContent() (string, bool) {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Message == nil {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}
