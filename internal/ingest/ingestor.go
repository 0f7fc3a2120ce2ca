// Package ingest turns uploaded documents into chunk rows plus their
// vector mirrors. The relational write is the commit point; mirroring is
// best-effort with reconciliation as backstop, exactly like the thread
// writes.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"Minerva/internal/dal"
	"Minerva/internal/embedding"
	"Minerva/internal/models"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"

	"github.com/google/uuid"
)

// Ingestor ingests one document at a time: split, persist, mirror.
type Ingestor struct {
	docs     *dal.DocDAL
	vectors  *vectorstore.Store
	embedder embedding.Embedding
	splitter *TokenSplitter
	log      *logger.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(docs *dal.DocDAL, vectors *vectorstore.Store, embedder embedding.Embedding, splitter *TokenSplitter, log *logger.Logger) *Ingestor {
	return &Ingestor{
		docs:     docs,
		vectors:  vectors,
		embedder: embedder,
		splitter: splitter,
		log:      log,
	}
}

// Ingest stores a document and its chunks, then mirrors the chunks into
// the document's collection. Chunks whose content hash already exists for
// the doc are skipped, so re-uploading the same file is a no-op. The
// returned count is the number of chunks actually inserted.
func (ing *Ingestor) Ingest(ctx context.Context, projectID, title, source, collection, text string) (*models.Doc, int, error) {
	chunks := ing.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("document %q contains no text", title)
	}

	doc := &models.Doc{
		DocID:      uuid.NewString(),
		ProjectID:  projectID,
		Title:      title,
		Source:     source,
		Collection: collection,
	}
	if err := ing.docs.CreateDoc(ctx, doc); err != nil {
		return nil, 0, fmt.Errorf("failed to create doc %q: %w", title, err)
	}

	rows := make([]*models.DocChunk, len(chunks))
	for i, content := range chunks {
		sum := sha256.Sum256([]byte(content))
		rows[i] = &models.DocChunk{
			ChunkID:     uuid.NewString(),
			DocID:       doc.DocID,
			ChunkIndex:  i,
			Content:     content,
			ContentHash: hex.EncodeToString(sum[:]),
		}
	}
	inserted, err := ing.docs.CreateChunks(ctx, rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to store chunks of %q: %w", title, err)
	}

	if err := ing.mirror(ctx, doc, inserted); err != nil {
		ing.log.WithProject(projectID).
			Warn(fmt.Sprintf("chunk mirror for doc %s deferred to reconciliation: %v", doc.DocID, err))
	}
	return doc, len(inserted), nil
}

// mirror embeds the inserted chunks and upserts their ids-only records.
func (ing *Ingestor) mirror(ctx context.Context, doc *models.Doc, chunks []*models.DocChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vecs, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	now := time.Now().Unix()
	recs := make([]models.VectorRecord, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		recs[i] = models.VectorRecord{
			ID:             chunk.ChunkID,
			OwnerID:        chunk.ChunkID,
			OwnerType:      models.OwnerDocChunk,
			ProjectID:      doc.ProjectID,
			CreatedAt:      now,
			EmbeddingModel: ing.embedder.ModelName(),
			Embedding:      vecs[i],
		}
		ids[i] = chunk.ChunkID
	}
	if err := ing.vectors.Upsert(ctx, doc.Collection, recs); err != nil {
		return err
	}
	return ing.docs.MarkChunksMirrored(ctx, ids)
}
