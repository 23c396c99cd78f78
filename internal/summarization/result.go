package summarization

// Result is the outcome of one summarization: a summary or a
// human-readable failure reason, never both.
type Result struct {
	ok     bool
	text   string
	reason string
}

// Success wraps a summary
func Success(text string) Result {
	return Result{ok: true, text: text}
}

// Failure wraps a user-facing reason
func Failure(reason string) Result {
	return Result{reason: reason}
}

// OK reports whether the result is a Success
func (r Result) OK() bool { return r.ok }

// Summary returns the summary text; empty for a Failure
func (r Result) Summary() string { return r.text }

// Reason returns the failure reason; empty for a Success
func (r Result) Reason() string { return r.reason }

func (r Result) String() string {
	if r.ok {
		return "Success(" + r.text + ")"
	}
	return "Failure(" + r.reason + ")"
}
