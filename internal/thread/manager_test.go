package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Minerva/internal/cerrors"
	"Minerva/internal/config"
	"Minerva/internal/models"
	"Minerva/pkg/logger"
)

// fakeStore is an in-memory Store with the same convergence semantics as
// the MySQL implementation: unique project_id, versioned appends.
type fakeStore struct {
	mu        sync.Mutex
	byProject map[string]*models.ProjectThread
	events    map[string][]*models.Event
	messages  map[string][]*models.ChatMessage

	conflictsLeft int // AppendExchange fails this many times first
	appendCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byProject: map[string]*models.ProjectThread{},
		events:    map[string][]*models.Event{},
		messages:  map[string][]*models.ChatMessage{},
	}
}

func (f *fakeStore) GetByProject(_ context.Context, projectID string) (*models.ProjectThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byProject[projectID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) GetByID(_ context.Context, threadID string) (*models.ProjectThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byProject {
		if t.ThreadID == threadID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(_ context.Context, t *models.ProjectThread) (*models.ProjectThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byProject[t.ProjectID]; ok {
		copied := *existing
		return &copied, nil
	}
	copied := *t
	f.byProject[t.ProjectID] = &copied
	return t, nil
}

func (f *fakeStore) AppendExchange(_ context.Context, t *models.ProjectThread, event *models.Event, msgs []*models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return ErrVersionConflict
	}
	stored, ok := f.byProject[t.ProjectID]
	if !ok || stored.Version != t.Version {
		return ErrVersionConflict
	}
	t.Version++
	copied := *t
	f.byProject[t.ProjectID] = &copied
	if event != nil {
		event.ThreadID = t.ThreadID
		event.Seq = int64(len(f.events[t.ThreadID]) + 1)
		f.events[t.ThreadID] = append(f.events[t.ThreadID], event)
	}
	for _, msg := range msgs {
		msg.ThreadID = t.ThreadID
		msg.Seq = int64(len(f.messages[t.ThreadID]) + 1)
		if event != nil {
			msg.EventID = event.EventID
		}
		f.messages[t.ThreadID] = append(f.messages[t.ThreadID], msg)
	}
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, threadID string, _ int) ([]*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Event{}, f.events[threadID]...), nil
}

func (f *fakeStore) ListMessages(_ context.Context, threadID string, _ int) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ChatMessage{}, f.messages[threadID]...), nil
}

func (f *fakeStore) GetEventsByIDs(context.Context, []string) ([]*models.Event, error) {
	return nil, nil
}

func (f *fakeStore) GetMessagesByIDs(context.Context, []string) ([]*models.ChatMessage, error) {
	return nil, nil
}

func (f *fakeStore) TruncateFromLastUserMessage(_ context.Context, threadID string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[threadID]
	lastUser := -1
	for i, msg := range msgs {
		if msg.Role == "user" {
			lastUser = i
		}
	}
	if lastUser < 0 {
		return nil, nil, nil
	}
	var removed []string
	for _, msg := range msgs[lastUser:] {
		removed = append(removed, msg.MessageID)
	}
	f.messages[threadID] = msgs[:lastUser]

	var removedEvents []string
	var kept []*models.Event
	doomed := map[string]bool{}
	for _, ev := range eventCut(f.events[threadID], msgs[lastUser]) {
		doomed[ev.EventID] = true
		removedEvents = append(removedEvents, ev.EventID)
	}
	for _, ev := range f.events[threadID] {
		if !doomed[ev.EventID] {
			kept = append(kept, ev)
		}
	}
	f.events[threadID] = kept
	return removedEvents, removed, nil
}

func (f *fakeStore) ListUnmirroredEvents(context.Context, int) ([]*models.Event, error) {
	return nil, nil
}

func (f *fakeStore) ListUnmirroredMessages(context.Context, int) ([]*models.ChatMessage, error) {
	return nil, nil
}

func (f *fakeStore) ListUnmirroredThreads(context.Context, int) ([]*models.ProjectThread, error) {
	return nil, nil
}

func (f *fakeStore) MarkEventsMirrored(context.Context, []string) error   { return nil }
func (f *fakeStore) MarkMessagesMirrored(context.Context, []string) error { return nil }
func (f *fakeStore) MarkThreadMirrored(context.Context, string) error     { return nil }

func testConvConfig() config.ConversationConfig {
	return config.ConversationConfig{
		ReferenceWindow: 3,
		RecentDocuments: 2,
		PersistRetries:  3,
		ActiveThreads:   8,
	}
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	runtime, err := NewRuntime(8)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	log := logger.New("thread_test", "", "")
	cache := NewCache(nil, time.Hour, log)
	return NewManager(store, cache, runtime, nil, testConvConfig(), log)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := mgr.GetOrCreate(ctx, "p1", "bob")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ThreadID != second.ThreadID {
		t.Errorf("thread ids differ: %s vs %s", first.ThreadID, second.ThreadID)
	}
}

func TestGetOrCreateConvergesUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th, err := mgr.GetOrCreate(ctx, "p1", "alice")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids <- th.ThreadID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("got %d distinct thread ids, want exactly one", len(seen))
	}
}

func TestAppendRetriesOnVersionConflict(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	if _, err := mgr.GetOrCreate(ctx, "p1", "alice"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	store.conflictsLeft = 1

	applied := 0
	_, event, err := mgr.Append(ctx, "p1", "alice", func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		applied++
		ev := &models.Event{EventType: models.EventQuestion, Summary: "q"}
		return ev, nil, nil
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if applied != 2 {
		t.Errorf("apply ran %d times, want 2 (replayed after conflict)", applied)
	}
	if event.Seq != 1 {
		t.Errorf("event seq = %d, want 1", event.Seq)
	}
}

func TestAppendSurfacesConflictAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	if _, err := mgr.GetOrCreate(ctx, "p1", "alice"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	store.conflictsLeft = 10

	_, _, err := mgr.Append(ctx, "p1", "alice", func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		return &models.Event{EventType: models.EventQuestion}, nil, nil
	})
	var conflict *cerrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.Attempts != 3 {
		t.Errorf("Attempts = %d, want the configured retry budget", conflict.Attempts)
	}
}

func TestAppendFoldsEntitiesIntoReferenceList(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	th, _, err := mgr.Append(ctx, "p1", "alice", func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		ev := &models.Event{EventType: models.EventQuestion, Summary: "about Rotor"}
		kd := models.EventKeyData{
			Entities: []models.EntityMention{{EntityID: "cls-1", EntityType: "class", Label: "Rotor"}},
		}
		if err := ev.SetKeyData(kd); err != nil {
			return nil, nil, err
		}
		return ev, nil, nil
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	ref, ok := th.RefList().Resolve("class")
	if !ok || ref.Label != "Rotor" {
		t.Errorf("RefList = %v, want Rotor as most recent class", th.RefList())
	}
}

func TestAppendCapsReferenceWindow(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	labels := []string{"A", "B", "C", "D", "E"}
	for _, label := range labels {
		label := label
		_, _, err := mgr.Append(ctx, "p1", "alice", func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
			ev := &models.Event{EventType: models.EventQuestion}
			kd := models.EventKeyData{
				Entities: []models.EntityMention{{EntityID: label, EntityType: "class", Label: label}},
			}
			if err := ev.SetKeyData(kd); err != nil {
				return nil, nil, err
			}
			return ev, nil, nil
		})
		if err != nil {
			t.Fatalf("Append(%s): %v", label, err)
		}
	}

	th, err := mgr.GetOrCreate(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	refs := th.RefList()
	if len(refs) != 3 {
		t.Fatalf("len(refs) = %d, want the configured window of 3", len(refs))
	}
	if refs[0].Label != "E" {
		t.Errorf("most recent = %s, want E", refs[0].Label)
	}
}

func TestTruncateLastEvictsEverywhere(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	_, _, err := mgr.Append(ctx, "p1", "alice", func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error) {
		msgs := []*models.ChatMessage{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		}
		return &models.Event{EventType: models.EventGreeting}, msgs, nil
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := mgr.TruncateLast(ctx, "p1"); err != nil {
		t.Fatalf("TruncateLast: %v", err)
	}

	th, err := mgr.GetOrCreate(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate after truncate: %v", err)
	}
	msgs, err := store.ListMessages(ctx, th.ThreadID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages after truncation = %d, want 0", len(msgs))
	}
	events, err := store.ListEvents(ctx, th.ThreadID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after truncation = %d, want 0", len(events))
	}
}
