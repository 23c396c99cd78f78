package notes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/summarization"
)

const validKey = "sk-test"

// fakeSummarizer blocks each call until a result is pushed on release
type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	texts   []string
	release chan summarization.Result
	started chan struct{}
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{
		release: make(chan summarization.Result),
		started: make(chan struct{}, 16),
	}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, apiKey, text string) summarization.Result {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	f.started <- struct{}{}

	select {
	case r := <-f.release:
		return r
	case <-ctx.Done():
		return summarization.Failure("Exception during summarization: " + ctx.Err().Error())
	}
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSession(s Summarizer, policy Policy) *Session {
	nop := zerolog.Nop()
	return NewSession(s, Options{APIKey: validKey, Policy: policy, Logger: &nop})
}

func waitTask(t *testing.T, task *Task) summarization.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("Task did not finish: %v", err)
	}
	return res
}

func waitStarted(t *testing.T, f *fakeSummarizer) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Summarizer was not called")
	}
}

func TestSummarize_Success(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("hello world")

	task := s.Summarize(context.Background())
	if task == nil {
		t.Fatal("Expected a task")
	}
	waitStarted(t, fake)

	st := s.Snapshot()
	if !st.InFlight {
		t.Error("Expected InFlight while the call is outstanding")
	}
	if st.Summary != "" {
		t.Error("Expected summary to be cleared when a call starts")
	}

	fake.release <- summarization.Success("short")
	res := waitTask(t, task)

	if !res.OK() {
		t.Errorf("Expected success, got %s", res)
	}
	st = s.Snapshot()
	if st.InFlight {
		t.Error("Expected InFlight to be false after completion")
	}
	if st.Summary != "short" {
		t.Errorf("Expected summary 'short', got '%s'", st.Summary)
	}
	if st.UserMessage != "" {
		t.Errorf("Expected no user message, got '%s'", st.UserMessage)
	}
	if !task.Committed() {
		t.Error("Expected task to be committed")
	}
}

func TestSummarize_SuccessClearsPreviousMessage(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.OnPermissionResult(false)
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Success("sum")
	waitTask(t, task)

	if msg := s.Snapshot().UserMessage; msg != "" {
		t.Errorf("Expected success to clear the user message, got '%s'", msg)
	}
}

func TestSummarize_Failure(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Failure("API Error: bad key")
	waitTask(t, task)

	st := s.Snapshot()
	if st.Summary != "" {
		t.Errorf("Expected empty summary, got '%s'", st.Summary)
	}
	if st.UserMessage != "API Error: bad key" {
		t.Errorf("Expected failure reason as user message, got '%s'", st.UserMessage)
	}
	if st.InFlight {
		t.Error("Expected idle after failure")
	}
}

func TestSummarize_EmptyFailureReason(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Failure("")
	waitTask(t, task)

	if msg := s.Snapshot().UserMessage; msg != MsgUnknownFailure {
		t.Errorf("Expected '%s', got '%s'", MsgUnknownFailure, msg)
	}
}

func TestSummarize_BlankTranscript(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("   ")

	if task := s.Summarize(context.Background()); task != nil {
		t.Error("Expected no task for a blank transcript")
	}
	if msg := s.Snapshot().UserMessage; msg != MsgNothingToSummarize {
		t.Errorf("Expected '%s', got '%s'", MsgNothingToSummarize, msg)
	}
	if fake.callCount() != 0 {
		t.Error("Expected no summarizer call")
	}
}

func TestSummarize_MissingCredential(t *testing.T) {
	for _, key := range []string{"", "DEFAULT_OPENAI_API_KEY"} {
		fake := newFakeSummarizer()
		nop := zerolog.Nop()
		s := NewSession(fake, Options{APIKey: key, Logger: &nop})
		s.AppendTranscript("text")

		if task := s.Summarize(context.Background()); task != nil {
			t.Errorf("Key %q: expected no task", key)
		}
		st := s.Snapshot()
		if st.UserMessage != MsgMissingCredential {
			t.Errorf("Key %q: expected '%s', got '%s'", key, MsgMissingCredential, st.UserMessage)
		}
		if st.InFlight {
			t.Errorf("Key %q: expected to stay idle", key)
		}
		if fake.callCount() != 0 {
			t.Errorf("Key %q: expected no summarizer call", key)
		}
	}
}

func TestSummarize_NoOverlap(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("text")

	first := s.Summarize(context.Background())
	waitStarted(t, fake)

	if second := s.Summarize(context.Background()); second != nil {
		t.Error("Expected a second summarize to be a no-op while in flight")
	}

	fake.release <- summarization.Success("one")
	waitTask(t, first)

	if fake.callCount() != 1 {
		t.Errorf("Expected exactly one call, got %d", fake.callCount())
	}
}

func TestAppendTranscript_ClearsSummaryImmediately(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("first")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Success("summary one")
	waitTask(t, task)

	s.AppendTranscript(" second")
	st := s.Snapshot()
	if st.Summary != "" {
		t.Errorf("Expected summary to be cleared, got '%s'", st.Summary)
	}
	if st.Transcript != "first second" {
		t.Errorf("Expected appended transcript, got '%s'", st.Transcript)
	}
}

func TestStalePolicy_Commit(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{Stale: CommitStale})
	s.AppendTranscript("original")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)

	// Edit mid-flight: summary is cleared at once, but the late result still lands
	s.AppendTranscript(" more")
	if s.Snapshot().Summary != "" {
		t.Error("Expected summary cleared on edit")
	}

	fake.release <- summarization.Success("old summary")
	waitTask(t, task)

	if got := s.Snapshot().Summary; got != "old summary" {
		t.Errorf("Expected stale result to be committed, got '%s'", got)
	}
	if !task.Committed() {
		t.Error("Expected task to be committed")
	}
}

func TestStalePolicy_Discard(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{Stale: DiscardStale})
	s.AppendTranscript("original")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	s.ReplaceTranscript("rewritten")

	fake.release <- summarization.Success("old summary")
	waitTask(t, task)

	st := s.Snapshot()
	if st.Summary != "" {
		t.Errorf("Expected stale result to be discarded, got '%s'", st.Summary)
	}
	if st.InFlight {
		t.Error("Expected idle after a discarded result")
	}
	if task.Committed() {
		t.Error("Expected task not to be committed")
	}
}

func TestStalePolicy_DiscardKeepsFreshResult(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{Stale: DiscardStale})
	s.AppendTranscript("original")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Success("fresh")
	waitTask(t, task)

	if got := s.Snapshot().Summary; got != "fresh" {
		t.Errorf("Expected fresh result, got '%s'", got)
	}
}

func TestClearAll_DoesNotCancelByDefault(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	s.ClearAll()

	select {
	case <-task.Done():
		t.Fatal("Expected the call to keep running after clear")
	case <-time.After(20 * time.Millisecond):
	}

	fake.release <- summarization.Success("late")
	waitTask(t, task)

	// Without CancelOnClear the late result still lands after a clear
	st := s.Snapshot()
	if st.Summary != "late" || st.Transcript != "" {
		t.Errorf("Unexpected state after late commit: %+v", st)
	}
}

func TestClearAll_CancelOnClear(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{CancelOnClear: true})
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	s.ClearAll()

	res := waitTask(t, task)
	if res.OK() {
		t.Error("Expected the cancelled call to fail")
	}
	st := s.Snapshot()
	if st.InFlight {
		t.Error("Expected idle after cancellation")
	}
	if st.UserMessage != "" || st.Summary != "" {
		t.Errorf("Expected cancelled result not to be committed: %+v", st)
	}
}

func TestClearAll_SingleNotification(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	s.AppendTranscript("text")
	s.OnPermissionResult(false)

	states, unsubscribe := s.Subscribe(8)
	defer unsubscribe()
	<-states // current state

	s.ClearAll()

	select {
	case st := <-states:
		if st.Transcript != "" || st.Summary != "" || st.UserMessage != "" {
			t.Errorf("Expected all fields cleared in one snapshot, got %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a notification")
	}

	select {
	case st := <-states:
		t.Errorf("Expected exactly one notification, got another: %+v", st)
	default:
	}
}

func TestSubscribe_ReplaysCurrentState(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	s.AppendTranscript("before")

	states, unsubscribe := s.Subscribe(1)
	defer unsubscribe()

	st := <-states
	if st.Transcript != "before" {
		t.Errorf("Expected current state on subscribe, got %+v", st)
	}
}

func TestSubscribe_SlowObserverKeepsNewest(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	states, unsubscribe := s.Subscribe(1)
	defer unsubscribe()

	for _, part := range []string{"a", "b", "c"} {
		s.AppendTranscript(part)
	}

	st := <-states
	if st.Transcript != "abc" {
		t.Errorf("Expected newest snapshot 'abc', got '%s'", st.Transcript)
	}
}

func TestEvents_PermissionFlow(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	events, detach := s.ObserveEvents()
	defer detach()

	s.RequestAudioPermission()
	ev := <-events
	if ev.Kind != EventRequestPermission {
		t.Errorf("Expected request_permission, got %s", ev.Kind)
	}

	s.OnPermissionResult(true)
	ev = <-events
	if ev.Kind != EventLaunchRecognizer {
		t.Errorf("Expected launch_recognizer, got %s", ev.Kind)
	}
	if ev.Recognizer == nil || ev.Recognizer.Prompt != "Speak now..." {
		t.Errorf("Expected default recognizer request, got %+v", ev.Recognizer)
	}
}

func TestEvents_PermissionDenied(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	events, detach := s.ObserveEvents()
	defer detach()

	s.OnPermissionResult(false)

	if msg := s.Snapshot().UserMessage; msg != MsgPermissionDenied {
		t.Errorf("Expected '%s', got '%s'", MsgPermissionDenied, msg)
	}
	select {
	case ev := <-events:
		t.Errorf("Expected no event on denial, got %s", ev.Kind)
	default:
	}
}

func TestEvents_DroppedWithoutObserver(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})

	s.RequestAudioPermission()

	events, detach := s.ObserveEvents()
	defer detach()

	select {
	case ev := <-events:
		t.Errorf("Expected event emitted before subscribing to be dropped, got %s", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEvents_NewObserverReplacesOld(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})

	first, _ := s.ObserveEvents()
	second, detach := s.ObserveEvents()
	defer detach()

	if _, open := <-first; open {
		t.Error("Expected the replaced observer's channel to be closed")
	}

	s.RequestAudioPermission()
	if ev := <-second; ev.Kind != EventRequestPermission {
		t.Errorf("Expected event on the new observer, got %s", ev.Kind)
	}
}

func TestTakeUserMessage_AtMostOnce(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	s.Summarize(context.Background())

	if msg := s.TakeUserMessage(); msg != MsgNothingToSummarize {
		t.Errorf("Expected '%s', got '%s'", MsgNothingToSummarize, msg)
	}
	if msg := s.TakeUserMessage(); msg != "" {
		t.Errorf("Expected message to be delivered once, got '%s' again", msg)
	}
}

func TestDismissUserMessage(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})
	s.OnPermissionResult(false)
	s.DismissUserMessage()

	if msg := s.Snapshot().UserMessage; msg != "" {
		t.Errorf("Expected message cleared, got '%s'", msg)
	}
}

func TestOnRecognitionResult(t *testing.T) {
	s := newTestSession(newFakeSummarizer(), Policy{})

	s.OnRecognitionResult([]string{"best guess", "second guess"}, nil)
	s.OnRecognitionResult(nil, errors.New("cancelled"))
	s.OnRecognitionResult(nil, nil)

	if got := s.Snapshot().Transcript; got != "best guess" {
		t.Errorf("Expected only the first candidate appended, got '%s'", got)
	}
}

func TestReplaceTranscript_ClearsSummary(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("a")
	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	fake.release <- summarization.Success("sum")
	waitTask(t, task)

	s.ReplaceTranscript("b")
	st := s.Snapshot()
	if st.Transcript != "b" || st.Summary != "" {
		t.Errorf("Unexpected state after edit: %+v", st)
	}
}

type panicSummarizer struct{}

func (panicSummarizer) Summarize(ctx context.Context, apiKey, text string) summarization.Result {
	panic("unexpected")
}

func TestSummarize_PanicRestoresIdle(t *testing.T) {
	s := newTestSession(panicSummarizer{}, Policy{})
	s.AppendTranscript("text")

	task := s.Summarize(context.Background())
	res := waitTask(t, task)

	if res.OK() {
		t.Error("Expected failure")
	}
	st := s.Snapshot()
	if st.InFlight {
		t.Error("Expected idle restored after panic")
	}
	if st.UserMessage != MsgUnknownFailure {
		t.Errorf("Expected '%s', got '%s'", MsgUnknownFailure, st.UserMessage)
	}
}

func TestClose_CancelsInFlight(t *testing.T) {
	fake := newFakeSummarizer()
	s := newTestSession(fake, Policy{})
	s.AppendTranscript("text")
	states, _ := s.Subscribe(16)

	task := s.Summarize(context.Background())
	waitStarted(t, fake)
	s.Close()

	waitTask(t, task)
	if task.Committed() {
		t.Error("Expected no commit after close")
	}

	// Observer channel is closed after draining
	for range states {
	}

	s.AppendTranscript("ignored")
	if s.Snapshot().Transcript != "text" {
		t.Error("Expected commands after Close to be ignored")
	}
	if s.Summarize(context.Background()) != nil {
		t.Error("Expected no task after Close")
	}
}

func TestParseStalePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StalePolicy
		wantErr bool
	}{
		{"commit", CommitStale, false},
		{"", CommitStale, false},
		{"Discard", DiscardStale, false},
		{"maybe", CommitStale, true},
	}
	for _, tt := range tests {
		got, err := ParseStalePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStalePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
