package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Minerva/internal/cerrors"
	"Minerva/internal/config"
	"Minerva/internal/models"
	"Minerva/pkg/logger"

	"github.com/google/uuid"
)

// ApplyFunc mutates a thread in memory and produces the rows to append.
// It may be invoked more than once: on an optimistic-lock conflict the
// manager re-reads the thread and replays the function against the fresh
// copy, so it must not carry side effects of its own.
type ApplyFunc func(t *models.ProjectThread) (*models.Event, []*models.ChatMessage, error)

// Manager owns the lifecycle of project threads: discovery through the
// memory -> cache -> relational -> vector chain, serialized appends with
// conflict retry, and the best-effort vector mirror after every commit.
type Manager struct {
	store   Store
	cache   *Cache
	runtime *Runtime
	mirror  *Mirror
	cfg     config.ConversationConfig
	log     *logger.Logger
}

// NewManager wires a thread manager. cache and mirror may be nil; the
// manager then runs without the corresponding layer.
func NewManager(store Store, cache *Cache, runtime *Runtime, mirror *Mirror, cfg config.ConversationConfig, log *logger.Logger) *Manager {
	return &Manager{
		store:   store,
		cache:   cache,
		runtime: runtime,
		mirror:  mirror,
		cfg:     cfg,
		log:     log,
	}
}

// GetOrCreate returns the project's single thread, creating it on first
// contact. Discovery walks memory, then Redis, then MySQL; the vector
// index is only probed when MySQL has no row, and a stray mirror found
// there is dropped as a consistency gap rather than trusted.
func (m *Manager) GetOrCreate(ctx context.Context, projectID, createdBy string) (*models.ProjectThread, error) {
	if t, ok := m.runtime.Get(projectID); ok {
		return t, nil
	}

	if t, ok := m.cache.GetThread(ctx, projectID); ok {
		m.runtime.Put(t)
		return t, nil
	}

	t, err := m.store.GetByProject(ctx, projectID)
	if err != nil {
		return nil, &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
	}
	if t != nil {
		m.runtime.Put(t)
		m.cache.PutThread(ctx, t)
		return t, nil
	}

	// No relational row. A mirror record for this project would mean a
	// past write half-succeeded; MySQL is authoritative, so drop it.
	if m.mirror != nil {
		strayID, err := m.mirror.FindStrayOwner(ctx, projectID)
		if err != nil {
			m.log.Warn(fmt.Sprintf("degraded thread discovery for project %s failed: %v", projectID, err))
		} else if strayID != "" {
			gap := &cerrors.ConsistencyGapError{Collection: m.mirror.collection, RecordID: strayID}
			m.log.WithError(models.ErrorInfo{Message: gap.Error(), Type: "consistency_gap"}).
				Warn("dropping stray thread mirror without relational row")
			if err := m.mirror.Drop(ctx, []string{strayID}); err != nil {
				m.log.Warn(fmt.Sprintf("failed to drop stray mirror %s: %v", strayID, err))
			}
		}
	}

	fresh := &models.ProjectThread{
		ThreadID:     uuid.NewString(),
		ProjectID:    projectID,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := fresh.SetSnapshot(models.ContextSnapshot{
		CurrentWorkbench: models.WorkbenchType(m.cfg.DefaultWorkbench),
	}); err != nil {
		return nil, err
	}
	if err := fresh.SetRefList(models.ReferenceList{}); err != nil {
		return nil, err
	}

	created, err := m.store.Create(ctx, fresh)
	if err != nil {
		return nil, &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
	}
	m.runtime.Put(created)
	m.cache.PutThread(ctx, created)
	m.mirrorThread(ctx, created)
	return created, nil
}

// Append runs one serialized append against the project's thread. The
// commit order is fixed: MySQL first, then the vector mirror best-effort,
// then the cache. An optimistic-lock conflict re-reads and replays up to
// the configured retry budget.
func (m *Manager) Append(ctx context.Context, projectID, createdBy string, apply ApplyFunc) (*models.ProjectThread, *models.Event, error) {
	lock := m.runtime.Lock(projectID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.GetOrCreate(ctx, projectID, createdBy)
	if err != nil {
		return nil, nil, err
	}

	retries := m.cfg.PersistRetries
	if retries <= 0 {
		retries = 1
	}

	var event *models.Event
	var msgs []*models.ChatMessage
	for attempt := 1; ; attempt++ {
		event, msgs, err = apply(t)
		if err != nil {
			return nil, nil, err
		}

		m.stampRows(t, event, msgs)
		m.foldIntoContext(t, event)
		t.LastActivity = time.Now()

		err = m.store.AppendExchange(ctx, t, event, msgs)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, nil, &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
		}
		if attempt >= retries {
			return nil, nil, &cerrors.ConflictError{ThreadID: t.ThreadID, Attempts: attempt}
		}

		fresh, rerr := m.store.GetByProject(ctx, projectID)
		if rerr != nil || fresh == nil {
			return nil, nil, &cerrors.FatalDependencyError{Dependency: "mysql", Err: rerr}
		}
		t = fresh
	}

	m.runtime.Put(t)
	m.mirrorAppend(ctx, t, event, msgs)
	m.cache.PutThread(ctx, t)
	return t, event, nil
}

// History returns the thread's recent events and chat messages, both in
// chronological order.
func (m *Manager) History(ctx context.Context, projectID string, limit int) ([]*models.Event, []*models.ChatMessage, error) {
	t, err := m.store.GetByProject(ctx, projectID)
	if err != nil {
		return nil, nil, &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
	}
	if t == nil {
		return nil, nil, nil
	}
	events, err := m.store.ListEvents(ctx, t.ThreadID, limit)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := m.store.ListMessages(ctx, t.ThreadID, limit)
	if err != nil {
		return nil, nil, err
	}
	return events, msgs, nil
}

// TruncateLast removes the last user message and everything after it,
// dropping the corresponding vector mirrors and every cached copy of the
// thread so no stale snapshot survives.
func (m *Manager) TruncateLast(ctx context.Context, projectID string) error {
	lock := m.runtime.Lock(projectID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetByProject(ctx, projectID)
	if err != nil {
		return &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
	}
	if t == nil {
		return nil
	}

	eventIDs, messageIDs, err := m.store.TruncateFromLastUserMessage(ctx, t.ThreadID)
	if err != nil {
		return &cerrors.FatalDependencyError{Dependency: "mysql", Err: err}
	}

	if m.mirror != nil {
		doomed := append(append([]string{}, eventIDs...), messageIDs...)
		if err := m.mirror.Drop(ctx, doomed); err != nil {
			m.log.Warn(fmt.Sprintf("failed to drop %d mirrors after truncation of thread %s: %v", len(doomed), t.ThreadID, err))
		}
	}

	m.runtime.Evict(projectID)
	m.cache.Invalidate(ctx, projectID)
	return nil
}

// stampRows assigns identifiers and timestamps that the caller left empty.
func (m *Manager) stampRows(t *models.ProjectThread, event *models.Event, msgs []*models.ChatMessage) {
	now := time.Now()
	if event != nil {
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
	}
	for _, msg := range msgs {
		if msg.MessageID == "" {
			msg.MessageID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
	}
}

// foldIntoContext feeds the event's entity mentions into the thread's
// bounded reference list and keeps the recent-documents window current.
func (m *Manager) foldIntoContext(t *models.ProjectThread, event *models.Event) {
	if event == nil {
		return
	}
	kd := event.DecodeKeyData()

	if len(kd.Entities) > 0 {
		refs := t.RefList()
		for _, mention := range kd.Entities {
			refs = refs.Touch(models.ContextualReference{
				Label:           mention.Label,
				EntityID:        mention.EntityID,
				EntityType:      mention.EntityType,
				LastMentionedAt: event.Timestamp,
			}, m.cfg.ReferenceWindow)
		}
		if err := t.SetRefList(refs); err != nil {
			m.log.Warn(fmt.Sprintf("failed to encode reference list for thread %s: %v", t.ThreadID, err))
		}
	}

	if event.EventType == models.EventDocumentUploaded && kd.ResourceID != "" {
		snap := t.Snapshot()
		docs := append([]string{kd.ResourceID}, snap.RecentDocuments...)
		if m.cfg.RecentDocuments > 0 && len(docs) > m.cfg.RecentDocuments {
			docs = docs[:m.cfg.RecentDocuments]
		}
		snap.RecentDocuments = docs
		if err := t.SetSnapshot(snap); err != nil {
			m.log.Warn(fmt.Sprintf("failed to encode snapshot for thread %s: %v", t.ThreadID, err))
		}
	}
}

func (m *Manager) mirrorThread(ctx context.Context, t *models.ProjectThread) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.MirrorThread(ctx, t); err != nil {
		m.logDegraded(err, "thread mirror deferred to reconciliation")
	}
}

func (m *Manager) mirrorAppend(ctx context.Context, t *models.ProjectThread, event *models.Event, msgs []*models.ChatMessage) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.MirrorThread(ctx, t); err != nil {
		m.logDegraded(err, "thread mirror deferred to reconciliation")
	}
	if event != nil {
		if err := m.mirror.MirrorEvent(ctx, t, event); err != nil {
			m.logDegraded(err, "event mirror deferred to reconciliation")
		}
	}
	if len(msgs) > 0 {
		if err := m.mirror.MirrorMessages(ctx, t, msgs); err != nil {
			m.logDegraded(err, "message mirror deferred to reconciliation")
		}
	}
}

func (m *Manager) logDegraded(err error, message string) {
	deg := &cerrors.DegradedDependencyError{Dependency: "milvus", Err: err}
	m.log.WithError(models.ErrorInfo{Message: deg.Error(), Type: "degraded_dependency"}).Warn(message)
}
