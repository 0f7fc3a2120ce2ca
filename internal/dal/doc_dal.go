package dal

import (
	"context"

	"Minerva/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocDAL provides data access methods for documents and their chunks.
// Chunk rows are the only place raw text lives, so every retrieval hit
// ends up here for its read-through.
type DocDAL struct {
	db *gorm.DB
}

// NewDocDAL creates a new DocDAL.
func NewDocDAL(db *gorm.DB) *DocDAL {
	return &DocDAL{db: db}
}

// CreateDoc creates a new document row.
func (dal *DocDAL) CreateDoc(ctx context.Context, doc *models.Doc) error {
	return dal.db.WithContext(ctx).Create(doc).Error
}

// CreateChunks inserts chunk rows, silently skipping any whose
// (doc_id, content_hash) pair already exists. Re-ingesting identical text
// is therefore a no-op. It returns the chunks that were actually inserted.
func (dal *DocDAL) CreateChunks(ctx context.Context, chunks []*models.DocChunk) ([]*models.DocChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var inserted []*models.DocChunk
	err := dal.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(chunk)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				inserted = append(inserted, chunk)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetChunksByIDs fetches chunk rows by primary key. Missing IDs simply do
// not appear in the result; callers decide what a gap between the index
// and the relational store means.
func (dal *DocDAL) GetChunksByIDs(ctx context.Context, chunkIDs []string) ([]*models.DocChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var chunks []*models.DocChunk
	result := dal.db.WithContext(ctx).Where("chunk_id IN ?", chunkIDs).Find(&chunks)
	if result.Error != nil {
		return nil, result.Error
	}
	return chunks, nil
}

// GetDocsByIDs fetches document rows by primary key.
func (dal *DocDAL) GetDocsByIDs(ctx context.Context, docIDs []string) (map[string]*models.Doc, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	var docs []*models.Doc
	result := dal.db.WithContext(ctx).Where("doc_id IN ?", docIDs).Find(&docs)
	if result.Error != nil {
		return nil, result.Error
	}
	byID := make(map[string]*models.Doc, len(docs))
	for _, doc := range docs {
		byID[doc.DocID] = doc
	}
	return byID, nil
}

// ListDocsByProject retrieves all documents of a project, newest first.
func (dal *DocDAL) ListDocsByProject(ctx context.Context, projectID string) ([]*models.Doc, error) {
	var docs []*models.Doc
	result := dal.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&docs)
	if result.Error != nil {
		return nil, result.Error
	}
	return docs, nil
}

// ListUnmirroredChunks returns up to limit chunk rows whose vector mirror
// has not been confirmed yet. The reconciliation worker drains these.
func (dal *DocDAL) ListUnmirroredChunks(ctx context.Context, limit int) ([]*models.DocChunk, error) {
	var chunks []*models.DocChunk
	result := dal.db.WithContext(ctx).
		Where("mirrored = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&chunks)
	if result.Error != nil {
		return nil, result.Error
	}
	return chunks, nil
}

// MarkChunksMirrored records that the vector index now holds an entry for
// each of the given chunks.
func (dal *DocDAL) MarkChunksMirrored(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return dal.db.WithContext(ctx).
		Model(&models.DocChunk{}).
		Where("chunk_id IN ?", chunkIDs).
		Update("mirrored", true).Error
}
