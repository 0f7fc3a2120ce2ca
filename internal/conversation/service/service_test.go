package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"Minerva/internal/cerrors"
	"Minerva/internal/command"
	"Minerva/internal/composer"
	"Minerva/internal/config"
	"Minerva/internal/models"
	"Minerva/internal/resolver"
	"Minerva/internal/retrieval"
	"Minerva/internal/thread"
	"Minerva/pkg/logger"
)

// fakeThreads is an in-memory Threads with the store's sequencing
// semantics: per-table seq counters and the message -> event link.
type fakeThreads struct {
	t        *models.ProjectThread
	events   []*models.Event
	msgs     []*models.ChatMessage
	eventSeq int64
	msgSeq   int64
}

func (f *fakeThreads) GetOrCreate(_ context.Context, projectID, userID string) (*models.ProjectThread, error) {
	if f.t == nil {
		t := &models.ProjectThread{
			ThreadID:  "thread-" + projectID,
			ProjectID: projectID,
			CreatedBy: userID,
		}
		if err := t.SetSnapshot(models.ContextSnapshot{CurrentWorkbench: models.WorkbenchRequirements}); err != nil {
			return nil, err
		}
		if err := t.SetRefList(models.ReferenceList{}); err != nil {
			return nil, err
		}
		f.t = t
	}
	return f.t, nil
}

func (f *fakeThreads) Append(ctx context.Context, projectID, userID string, apply thread.ApplyFunc) (*models.ProjectThread, *models.Event, error) {
	t, err := f.GetOrCreate(ctx, projectID, userID)
	if err != nil {
		return nil, nil, err
	}
	event, msgs, err := apply(t)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	if event != nil {
		f.eventSeq++
		event.EventID = fmt.Sprintf("ev-%d", f.eventSeq)
		event.ThreadID = t.ThreadID
		event.Seq = f.eventSeq
		event.Timestamp = now
		f.events = append(f.events, event)
	}
	for _, msg := range msgs {
		f.msgSeq++
		msg.MessageID = fmt.Sprintf("msg-%d", f.msgSeq)
		msg.ThreadID = t.ThreadID
		msg.Seq = f.msgSeq
		msg.Timestamp = now
		if event != nil {
			msg.EventID = event.EventID
		}
		f.msgs = append(f.msgs, msg)
	}
	t.Version++
	return t, event, nil
}

func (f *fakeThreads) History(context.Context, string, int) ([]*models.Event, []*models.ChatMessage, error) {
	return append([]*models.Event{}, f.events...), append([]*models.ChatMessage{}, f.msgs...), nil
}

func (f *fakeThreads) TruncateLast(context.Context, string) error {
	lastUser := -1
	for i, msg := range f.msgs {
		if msg.Role == "user" {
			lastUser = i
		}
	}
	if lastUser < 0 {
		return nil
	}
	anchor := f.msgs[lastUser].EventID
	f.msgs = f.msgs[:lastUser]

	kept := f.events[:0:0]
	for _, ev := range f.events {
		if ev.EventID == anchor {
			break
		}
		kept = append(kept, ev)
	}
	f.events = kept
	return nil
}

type fakeRecognizer struct {
	rec     command.Recognition
	found   bool
	missing []string
}

func (f *fakeRecognizer) Recognize(string) (command.Recognition, bool) {
	return f.rec, f.found
}

func (f *fakeRecognizer) Validate(tmpl models.CommandTemplate, raw map[string]string, _ models.ContextSnapshot) (map[string]string, *cerrors.ValidationError) {
	if len(f.missing) > 0 {
		return nil, &cerrors.ValidationError{Command: tmpl.Name, Missing: f.missing}
	}
	return raw, nil
}

type fakeDispatcher struct {
	calls  int
	report *command.Report
}

func (f *fakeDispatcher) Execute(_ context.Context, _, _ string, tmpl models.CommandTemplate, _ map[string]string) (*command.Report, error) {
	f.calls++
	if f.report != nil {
		return f.report, nil
	}
	return &command.Report{Command: tmpl.Name, Success: true}, nil
}

type fakeRetriever struct {
	results []retrieval.Result
}

func (f *fakeRetriever) Retrieve(context.Context, string, []string, int, float32) ([]retrieval.Result, error) {
	return f.results, nil
}

type staticLLM struct {
	reply string
}

func (s *staticLLM) Generate(context.Context, string) (string, error) {
	return s.reply, nil
}

func newTestService(threads *fakeThreads, eng Recognizer, exec Dispatcher) *Service {
	log := logger.New("service_test", "", "")
	cfg := config.ConversationConfig{
		ReferenceWindow: 5,
		RecentDocuments: 5,
		PersistRetries:  3,
		TopK:            3,
		SimilarityFloor: 0.5,
	}
	return New(
		threads,
		resolver.New(log),
		&fakeRetriever{},
		eng,
		exec,
		composer.New(&staticLLM{reply: "ok"}),
		nil,
		[]string{"general_knowledge"},
		cfg,
		log,
	)
}

// A recognized command below its confidence threshold must come back as a
// clarification and never reach the executor.
func TestLowConfidenceCommandIsNeverExecuted(t *testing.T) {
	threads := &fakeThreads{}
	eng := &fakeRecognizer{
		rec: command.Recognition{
			Template:   models.CommandTemplate{Name: "create_ontology_class", ConfidenceThreshold: 0.70},
			Confidence: 0.40,
			RawParams:  map[string]string{"class_name": "Pump"},
		},
		found: true,
	}
	exec := &fakeDispatcher{}
	svc := newTestService(threads, eng, exec)

	reply, err := svc.ProcessMessage(context.Background(), "proj-1", "user-1", "create a pressure class for the pump")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply.Intent != models.IntentClarification {
		t.Fatalf("expected CLARIFICATION, got %s", reply.Intent)
	}
	if exec.calls != 0 {
		t.Fatalf("executor was invoked %d times for a below-threshold command", exec.calls)
	}
	if len(threads.events) != 1 || threads.events[0].EventType != models.EventClarification {
		t.Fatalf("expected one clarification event, got %+v", threads.events)
	}
}

// Validation failures are conversational replies, not dispatches.
func TestMissingParametersNeverReachExecutor(t *testing.T) {
	threads := &fakeThreads{}
	eng := &fakeRecognizer{
		rec: command.Recognition{
			Template:   models.CommandTemplate{Name: "create_ontology_class", ConfidenceThreshold: 0.70},
			Confidence: 0.95,
		},
		found:   true,
		missing: []string{"class_name"},
	}
	exec := &fakeDispatcher{}
	svc := newTestService(threads, eng, exec)

	reply, err := svc.ProcessMessage(context.Background(), "proj-1", "user-1", "create a class")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("executor was invoked %d times despite missing parameters", exec.calls)
	}
	if reply.Intent != models.IntentCommand {
		t.Fatalf("expected COMMAND reply, got %s", reply.Intent)
	}
	if !strings.Contains(reply.Content, "class_name") {
		t.Fatalf("expected the missing parameter to be named, got %q", reply.Content)
	}
}

// The happy path dispatches exactly once.
func TestConfidentValidCommandExecutesOnce(t *testing.T) {
	threads := &fakeThreads{}
	eng := &fakeRecognizer{
		rec: command.Recognition{
			Template:   models.CommandTemplate{Name: "run_simulation", ConfidenceThreshold: 0.70},
			Confidence: 1.0,
			RawParams:  map[string]string{"model_id": "sim-42"},
		},
		found: true,
	}
	exec := &fakeDispatcher{}
	svc := newTestService(threads, eng, exec)

	reply, err := svc.ProcessMessage(context.Background(), "proj-1", "user-1", "run simulation sim-42")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", exec.calls)
	}
	if reply.Intent != models.IntentCommand {
		t.Fatalf("expected COMMAND reply, got %s", reply.Intent)
	}
}

// Truncating the last exchange and reprocessing an edited message yields a
// sequence of the same length, with the earlier entries untouched.
func TestTruncateThenReprocessRestoresSequenceLength(t *testing.T) {
	threads := &fakeThreads{}
	svc := newTestService(threads, &fakeRecognizer{}, &fakeDispatcher{})
	ctx := context.Background()

	for _, msg := range []string{"hello", "hi", "hey"} {
		if _, err := svc.ProcessMessage(ctx, "proj-1", "user-1", msg); err != nil {
			t.Fatalf("ProcessMessage(%q): %v", msg, err)
		}
	}
	if len(threads.events) != 3 || len(threads.msgs) != 6 {
		t.Fatalf("expected 3 events and 6 messages, got %d and %d", len(threads.events), len(threads.msgs))
	}
	firstID, secondID := threads.events[0].EventID, threads.events[1].EventID

	if err := svc.TruncateLast(ctx, "proj-1"); err != nil {
		t.Fatalf("TruncateLast: %v", err)
	}
	if len(threads.events) != 2 || len(threads.msgs) != 4 {
		t.Fatalf("expected 2 events and 4 messages after truncation, got %d and %d", len(threads.events), len(threads.msgs))
	}

	if _, err := svc.ProcessMessage(ctx, "proj-1", "user-1", "good morning"); err != nil {
		t.Fatalf("ProcessMessage after truncation: %v", err)
	}
	if len(threads.events) != 3 || len(threads.msgs) != 6 {
		t.Fatalf("expected the sequence restored to 3 events and 6 messages, got %d and %d", len(threads.events), len(threads.msgs))
	}
	if threads.events[0].EventID != firstID || threads.events[1].EventID != secondID {
		t.Fatal("earlier exchanges did not survive the truncate-and-retry cycle")
	}
	if threads.msgs[4].Content != "good morning" {
		t.Fatalf("expected the edited message in the restored slot, got %q", threads.msgs[4].Content)
	}
}

func TestSummarizeCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("需求", 80) // 480 bytes of 3-byte runes
	got := summarize(long)
	if len(got) > 200 {
		t.Fatalf("summary is %d bytes, want <= 200", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatal("summary is not valid UTF-8")
	}
	if !strings.HasPrefix(long, got) {
		t.Fatal("summary is not a prefix of the message")
	}
}
