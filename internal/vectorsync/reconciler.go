// Package vectorsync closes the gap the dual-write protocol tolerates:
// relational rows whose vector mirror failed stay marked unmirrored, and
// this worker re-embeds them on a fixed interval until the index catches
// up.
package vectorsync

import (
	"context"
	"fmt"
	"time"

	"Minerva/internal/dal"
	"Minerva/internal/embedding"
	"Minerva/internal/models"
	"Minerva/internal/thread"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"
)

const defaultBatchSize = 64

// Reconciler periodically scans for unmirrored rows and mirrors them.
type Reconciler struct {
	threads  thread.Store
	mirror   *thread.Mirror
	docs     *dal.DocDAL
	vectors  *vectorstore.Store
	embedder embedding.Embedding
	interval time.Duration
	log      *logger.Logger

	stop chan struct{}
	done chan struct{}
}

// NewReconciler creates a Reconciler running every interval.
func NewReconciler(threads thread.Store, mirror *thread.Mirror, docs *dal.DocDAL, vectors *vectorstore.Store, embedder embedding.Embedding, interval time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		threads:  threads,
		mirror:   mirror,
		docs:     docs,
		vectors:  vectors,
		embedder: embedder,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs after one full
// interval so startup is never delayed by a backlog.
func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if err := r.RunOnce(ctx); err != nil {
					r.log.Warn(fmt.Sprintf("reconciliation pass failed: %v", err))
				}
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop shuts the loop down and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// RunOnce performs one reconciliation pass over every table carrying a
// mirrored flag. Errors in one table do not stop the others; the first
// error is returned after all tables were attempted.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, step := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"threads", r.reconcileThreads},
		{"events", r.reconcileEvents},
		{"messages", r.reconcileMessages},
		{"chunks", r.reconcileChunks},
	} {
		if err := step.run(ctx); err != nil {
			r.log.Warn(fmt.Sprintf("reconcile %s: %v", step.name, err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Reconciler) reconcileThreads(ctx context.Context) error {
	rows, err := r.threads.ListUnmirroredThreads(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	for _, t := range rows {
		if err := r.mirror.MirrorThread(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileEvents(ctx context.Context) error {
	rows, err := r.threads.ListUnmirroredEvents(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	threadsByID := map[string]*models.ProjectThread{}
	for _, ev := range rows {
		t, ok := threadsByID[ev.ThreadID]
		if !ok {
			t, err = r.threads.GetByID(ctx, ev.ThreadID)
			if err != nil {
				return err
			}
			if t == nil {
				// Orphaned event; nothing sensible to mirror it under.
				r.log.Warn(fmt.Sprintf("unmirrored event %s references missing thread %s", ev.EventID, ev.ThreadID))
				continue
			}
			threadsByID[ev.ThreadID] = t
		}
		if err := r.mirror.MirrorEvent(ctx, t, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileMessages(ctx context.Context) error {
	rows, err := r.threads.ListUnmirroredMessages(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	byThread := map[string][]*models.ChatMessage{}
	for _, msg := range rows {
		byThread[msg.ThreadID] = append(byThread[msg.ThreadID], msg)
	}
	for threadID, msgs := range byThread {
		t, err := r.threads.GetByID(ctx, threadID)
		if err != nil {
			return err
		}
		if t == nil {
			r.log.Warn(fmt.Sprintf("%d unmirrored messages reference missing thread %s", len(msgs), threadID))
			continue
		}
		if err := r.mirror.MirrorMessages(ctx, t, msgs); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileChunks(ctx context.Context) error {
	chunks, err := r.docs.ListUnmirroredChunks(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	docIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		docIDs = append(docIDs, chunk.DocID)
	}
	docsByID, err := r.docs.GetDocsByIDs(ctx, docIDs)
	if err != nil {
		return err
	}

	// Group per collection; each document names its own target collection.
	byCollection := map[string][]*models.DocChunk{}
	for _, chunk := range chunks {
		doc, ok := docsByID[chunk.DocID]
		if !ok {
			r.log.Warn(fmt.Sprintf("unmirrored chunk %s references missing doc %s", chunk.ChunkID, chunk.DocID))
			continue
		}
		byCollection[doc.Collection] = append(byCollection[doc.Collection], chunk)
	}

	for collection, group := range byCollection {
		texts := make([]string, len(group))
		for i, chunk := range group {
			texts[i] = chunk.Content
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %d chunks for %q: %w", len(group), collection, err)
		}

		recs := make([]models.VectorRecord, len(group))
		ids := make([]string, len(group))
		for i, chunk := range group {
			doc := docsByID[chunk.DocID]
			recs[i] = models.VectorRecord{
				ID:             chunk.ChunkID,
				OwnerID:        chunk.ChunkID,
				OwnerType:      models.OwnerDocChunk,
				ProjectID:      doc.ProjectID,
				CreatedAt:      chunk.CreatedAt.Unix(),
				EmbeddingModel: r.embedder.ModelName(),
				Embedding:      vecs[i],
			}
			ids[i] = chunk.ChunkID
		}
		if err := r.vectors.Upsert(ctx, collection, recs); err != nil {
			return err
		}
		if err := r.docs.MarkChunksMirrored(ctx, ids); err != nil {
			return err
		}
	}
	return nil
}
