package notes

import (
	"sync"

	"github.com/lexiqai/voice-notes/internal/observability"
)

const eventBuffer = 8

// eventHub delivers one-shot events to at most one observer. Events
// emitted while nobody observes, or while the observer is backed up, are
// dropped and never replayed.
type eventHub struct {
	mu     sync.Mutex
	ch     chan UiEvent
	seq    uint64
	closed bool
}

// observe attaches a new observer, detaching the previous one
func (h *eventHub) observe() (<-chan UiEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan UiEvent, eventBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	if h.ch != nil {
		close(h.ch)
	}
	h.seq++
	h.ch = ch
	id := h.seq

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.seq == id && h.ch != nil {
				close(h.ch)
				h.ch = nil
			}
		})
	}
}

// emit reports whether the event reached an observer
func (h *eventHub) emit(ev UiEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	if h.ch != nil {
		select {
		case h.ch <- ev:
			delivered = true
		default:
		}
	}
	observability.RecordUIEvent(string(ev.Kind), delivered)
	return delivered
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.ch != nil {
		close(h.ch)
		h.ch = nil
	}
}
