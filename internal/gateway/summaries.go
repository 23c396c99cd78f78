package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/lexiqai/voice-notes/internal/notes"
	"github.com/lexiqai/voice-notes/internal/observability"
)

const maxSummaryBody = 1 << 20

// SummaryRequest is the body of POST /v1/summaries
type SummaryRequest struct {
	Text string `json:"text"`
}

// SummaryResponse carries either a summary or a user-facing error
type SummaryResponse struct {
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeSummary summarizes a transcript in one request using a throwaway session
func (h *Handler) ServeSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeSummary(w, http.StatusMethodNotAllowed, SummaryResponse{Error: "Method not allowed."})
		return
	}

	var req SummaryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSummaryBody)).Decode(&req); err != nil {
		writeSummary(w, http.StatusBadRequest, SummaryResponse{Error: errMalformedIntent})
		return
	}

	logger := observability.ForSession(observability.NewSessionID())
	session := h.newSession(logger)
	defer session.Close()

	session.AppendTranscript(req.Text)

	task := session.Summarize(r.Context())
	if task == nil {
		writeSummary(w, http.StatusUnprocessableEntity, SummaryResponse{Error: session.TakeUserMessage()})
		return
	}

	if _, err := task.Wait(r.Context()); err != nil {
		// Client went away
		task.Cancel()
		return
	}

	st := session.Snapshot()
	if st.Summary != "" {
		writeSummary(w, http.StatusOK, SummaryResponse{Summary: st.Summary})
		return
	}

	msg := session.TakeUserMessage()
	if msg == "" {
		msg = notes.MsgUnknownFailure
	}
	logger.Info().Str("reason", msg).Msg("Summary request failed")
	writeSummary(w, http.StatusUnprocessableEntity, SummaryResponse{Error: msg})
}

func writeSummary(w http.ResponseWriter, code int, resp SummaryResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
