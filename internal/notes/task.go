package notes

import (
	"context"

	"github.com/lexiqai/voice-notes/internal/summarization"
)

// Task is the handle of one in-flight summarization
type Task struct {
	done     chan struct{}
	cancel   context.CancelFunc
	ctx      context.Context
	revision uint64

	// written once before done is closed
	result    summarization.Result
	committed bool
}

func newTask(ctx context.Context, revision uint64) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	return &Task{
		done:     make(chan struct{}),
		cancel:   cancel,
		ctx:      taskCtx,
		revision: revision,
	}
}

// Done is closed once the result has been applied to session state
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) (summarization.Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return summarization.Result{}, ctx.Err()
	}
}

// Result returns the outcome once the task has finished
func (t *Task) Result() (summarization.Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return summarization.Result{}, false
	}
}

// Committed reports whether the finished task's outcome was written to
// session state. Cancelled and discarded-stale tasks are not committed.
func (t *Task) Committed() bool {
	select {
	case <-t.done:
		return t.committed
	default:
		return false
	}
}

// Cancel aborts the network call. The session still returns to idle.
func (t *Task) Cancel() {
	t.cancel()
}
