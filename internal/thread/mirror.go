package thread

import (
	"context"
	"fmt"
	"strings"

	"Minerva/internal/embedding"
	"Minerva/internal/models"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"
)

// Mirror writes ids-only copies of thread rows into the vector index. The
// relational row is already committed when a Mirror method runs, so every
// failure here is survivable: the row keeps mirrored=false and the
// reconciler picks it up later.
type Mirror struct {
	store      Store
	vectors    *vectorstore.Store
	embedder   embedding.Embedding
	collection string
	log        *logger.Logger
}

// NewMirror creates a Mirror targeting the given thread collection.
func NewMirror(store Store, vectors *vectorstore.Store, embedder embedding.Embedding, collection string, log *logger.Logger) *Mirror {
	return &Mirror{
		store:      store,
		vectors:    vectors,
		embedder:   embedder,
		collection: collection,
		log:        log,
	}
}

// MirrorThread upserts the thread's metadata record, embedding a short
// textual profile of its context snapshot.
func (m *Mirror) MirrorThread(ctx context.Context, t *models.ProjectThread) error {
	vec, err := m.embedder.Embed(ctx, threadProfile(t))
	if err != nil {
		return fmt.Errorf("embed thread %s: %w", t.ThreadID, err)
	}
	rec := models.VectorRecord{
		ID:             t.ThreadID,
		OwnerID:        t.ThreadID,
		OwnerType:      models.OwnerThread,
		ProjectID:      t.ProjectID,
		CreatedAt:      t.LastActivity.Unix(),
		EmbeddingModel: m.embedder.ModelName(),
		Embedding:      vec,
	}
	if err := m.vectors.Upsert(ctx, m.collection, []models.VectorRecord{rec}); err != nil {
		return err
	}
	return m.store.MarkThreadMirrored(ctx, t.ThreadID)
}

// MirrorEvent upserts one event record keyed by its summary.
func (m *Mirror) MirrorEvent(ctx context.Context, t *models.ProjectThread, ev *models.Event) error {
	text := ev.Summary
	if text == "" {
		text = string(ev.EventType)
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed event %s: %w", ev.EventID, err)
	}
	rec := models.VectorRecord{
		ID:             ev.EventID,
		OwnerID:        ev.EventID,
		OwnerType:      models.OwnerEvent,
		ProjectID:      t.ProjectID,
		CreatedAt:      ev.Timestamp.Unix(),
		EmbeddingModel: m.embedder.ModelName(),
		Embedding:      vec,
	}
	if err := m.vectors.Upsert(ctx, m.collection, []models.VectorRecord{rec}); err != nil {
		return err
	}
	return m.store.MarkEventsMirrored(ctx, []string{ev.EventID})
}

// MirrorMessages upserts a batch of chat message records.
func (m *Mirror) MirrorMessages(ctx context.Context, t *models.ProjectThread, msgs []*models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	texts := make([]string, len(msgs))
	for i, msg := range msgs {
		texts[i] = msg.Content
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d messages for thread %s: %w", len(msgs), t.ThreadID, err)
	}
	recs := make([]models.VectorRecord, len(msgs))
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		recs[i] = models.VectorRecord{
			ID:             msg.MessageID,
			OwnerID:        msg.MessageID,
			OwnerType:      models.OwnerChatMessage,
			ProjectID:      t.ProjectID,
			CreatedAt:      msg.Timestamp.Unix(),
			EmbeddingModel: m.embedder.ModelName(),
			Embedding:      vecs[i],
		}
		ids[i] = msg.MessageID
	}
	if err := m.vectors.Upsert(ctx, m.collection, recs); err != nil {
		return err
	}
	return m.store.MarkMessagesMirrored(ctx, ids)
}

// Drop removes mirror records by ID. Used after truncation.
func (m *Mirror) Drop(ctx context.Context, ids []string) error {
	return m.vectors.DeleteByIDs(ctx, m.collection, ids)
}

// FindStrayOwner looks up a thread's mirror record by project, the
// degraded-mode discovery probe.
func (m *Mirror) FindStrayOwner(ctx context.Context, projectID string) (string, error) {
	owners, err := m.vectors.FindOwnersByProject(ctx, m.collection, projectID, models.OwnerThread)
	if err != nil {
		return "", err
	}
	if len(owners) == 0 {
		return "", nil
	}
	return owners[0], nil
}

func threadProfile(t *models.ProjectThread) string {
	snap := t.Snapshot()
	var parts []string
	if snap.ProjectGoals != "" {
		parts = append(parts, snap.ProjectGoals)
	}
	if snap.CurrentWorkbench != models.WorkbenchNone {
		parts = append(parts, "workbench: "+string(snap.CurrentWorkbench))
	}
	if len(snap.ActiveOntologies) > 0 {
		parts = append(parts, "ontologies: "+strings.Join(snap.ActiveOntologies, ", "))
	}
	if len(parts) == 0 {
		return "project thread " + t.ProjectID
	}
	return strings.Join(parts, "; ")
}
