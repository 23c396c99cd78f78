package audio

import (
	"sync"
)

// RingBuffer is a bounded, thread-safe backlog of audio bytes. It holds
// audio while the upstream stream is unavailable; once full, the oldest
// bytes are overwritten so the backlog always ends at the newest audio.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	start   int
	count   int
	dropped int64
}

// NewRingBuffer creates a ring buffer holding at most capacity bytes
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends data, overwriting the oldest bytes when full.
// Returns the number of bytes overwritten.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buf)
	overwritten := 0

	// Only the newest size bytes of an oversized write can survive
	if len(data) > size {
		overwritten += len(data) - size
		data = data[len(data)-size:]
	}

	for _, b := range data {
		end := (rb.start + rb.count) % size
		rb.buf[end] = b
		if rb.count == size {
			rb.start = (rb.start + 1) % size
			overwritten++
		} else {
			rb.count++
		}
	}

	rb.dropped += int64(overwritten)
	return overwritten
}

// Read copies up to len(p) of the oldest bytes into p and consumes them
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := 0
	for n < len(p) && rb.count > 0 {
		p[n] = rb.buf[rb.start]
		rb.start = (rb.start + 1) % len(rb.buf)
		rb.count--
		n++
	}
	return n
}

// Drain consumes and returns everything buffered
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	n := rb.count
	rb.mu.Unlock()

	out := make([]byte, n)
	return out[:rb.Read(out)]
}

// Len returns the number of buffered bytes
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the buffer capacity
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Dropped returns the total number of bytes overwritten since creation
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear discards buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.count = 0
}
