package vectorstore

import (
	"context"
	"fmt"

	"Minerva/internal/database/milvus"
	"Minerva/internal/models"
	"Minerva/pkg/logger"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Hit is one similarity-search result: an identifier and a score, nothing
// more. Callers must fetch the text behind OwnerID from the relational
// store themselves.
type Hit struct {
	ID         string
	OwnerID    string
	OwnerType  string
	ProjectID  string
	Score      float32
	Collection string
}

// Store adapts the Milvus client to the dual-write protocol: records carry
// only identifiers, metadata and the embedding itself. Upserts are
// idempotent, so the store is safe to call without locking.
type Store struct {
	log    *logger.Logger
	client client.Client
	dim    int
	metric entity.MetricType
}

// NewStore creates a new Store over the shared Milvus client.
func NewStore(milvusClient *milvus.MilvusClient, log *logger.Logger) (*Store, error) {
	if milvusClient == nil || milvusClient.Client == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	metric := entity.MetricType(milvusClient.Config.MetricType)
	if metric == "" {
		metric = entity.COSINE
	}
	return &Store{
		log:    log,
		client: milvusClient.Client,
		dim:    milvusClient.Config.Dim,
		metric: metric,
	}, nil
}

// Upsert writes a batch of VectorRecords into the named collection. The
// record ID doubles as the primary key, so re-upserting after a retried
// write replaces rather than duplicates.
func (s *Store) Upsert(ctx context.Context, collection string, recs []models.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ids := make([]string, len(recs))
	ownerIDs := make([]string, len(recs))
	ownerTypes := make([]string, len(recs))
	projectIDs := make([]string, len(recs))
	createdAts := make([]int64, len(recs))
	embModels := make([]string, len(recs))
	embeddings := make([][]float32, len(recs))

	for i, rec := range recs {
		if len(rec.Embedding) != s.dim {
			return fmt.Errorf("record %s: embedding dim %d does not match collection dim %d",
				rec.ID, len(rec.Embedding), s.dim)
		}
		ids[i] = rec.ID
		ownerIDs[i] = rec.OwnerID
		ownerTypes[i] = string(rec.OwnerType)
		projectIDs[i] = rec.ProjectID
		createdAts[i] = rec.CreatedAt
		embModels[i] = rec.EmbeddingModel
		embeddings[i] = rec.Embedding
	}

	_, err := s.client.Upsert(ctx, collection, "",
		entity.NewColumnVarChar(models.VectorFieldID, ids),
		entity.NewColumnVarChar(models.VectorFieldOwnerID, ownerIDs),
		entity.NewColumnVarChar(models.VectorFieldOwnerType, ownerTypes),
		entity.NewColumnVarChar(models.VectorFieldProjectID, projectIDs),
		entity.NewColumnInt64(models.VectorFieldCreatedAt, createdAts),
		entity.NewColumnVarChar(models.VectorFieldEmbeddingModel, embModels),
		entity.NewColumnFloatVector(models.VectorFieldEmbedding, s.dim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %d records into %q: %w", len(recs), collection, err)
	}
	return nil
}

// Search performs a similarity search in one collection and returns hits
// ordered by descending score.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	searchParams, _ := entity.NewIndexIvfFlatSearchParam(10)
	outputFields := []string{
		models.VectorFieldOwnerID,
		models.VectorFieldOwnerType,
		models.VectorFieldProjectID,
	}

	searchResults, err := s.client.Search(
		ctx, collection, []string{}, "", outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		models.VectorFieldEmbedding, s.metric, topK, searchParams,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in %q: %w", collection, err)
	}

	var hits []Hit
	for _, res := range searchResults {
		ownerCol := findVarCharColumn(res.Fields, models.VectorFieldOwnerID)
		typeCol := findVarCharColumn(res.Fields, models.VectorFieldOwnerType)
		projCol := findVarCharColumn(res.Fields, models.VectorFieldProjectID)

		for i := 0; i < res.ResultCount; i++ {
			id, err := res.IDs.GetAsString(i)
			if err != nil {
				s.log.Warn(fmt.Sprintf("search result %d in %q has a non-string id, skipping", i, collection))
				continue
			}
			hit := Hit{
				ID:         id,
				Score:      res.Scores[i],
				Collection: collection,
			}
			if ownerCol != nil {
				hit.OwnerID = ownerCol.Data()[i]
			}
			if typeCol != nil {
				hit.OwnerType = typeCol.Data()[i]
			}
			if projCol != nil {
				hit.ProjectID = projCol.Data()[i]
			}
			hits = append(hits, hit)
		}
	}

	return hits, nil
}

// FindOwnersByProject runs a metadata-only query (no embedding involved)
// and returns the owner IDs of records belonging to the project. This is
// the degraded-mode discovery path for threads, never the common path.
func (s *Store) FindOwnersByProject(ctx context.Context, collection, projectID string, ownerType models.OwnerType) ([]string, error) {
	expr := fmt.Sprintf(`%s == "%s" and %s == "%s"`,
		models.VectorFieldProjectID, projectID,
		models.VectorFieldOwnerType, string(ownerType),
	)

	resultSet, err := s.client.Query(ctx, collection, []string{}, expr, []string{models.VectorFieldOwnerID})
	if err != nil {
		return nil, fmt.Errorf("failed to query %q by project: %w", collection, err)
	}

	for _, col := range resultSet {
		if col.Name() == models.VectorFieldOwnerID {
			if vc, ok := col.(*entity.ColumnVarChar); ok {
				return vc.Data(), nil
			}
		}
	}
	return nil, nil
}

// DeleteByIDs removes records from a collection by primary key. Used by
// the edit-and-retry truncation to drop mirrors of deleted rows.
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`%s in [`, models.VectorFieldID)
	for i, id := range ids {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%q", id)
	}
	expr += "]"

	if err := s.client.Delete(ctx, collection, "", expr); err != nil {
		return fmt.Errorf("failed to delete %d records from %q: %w", len(ids), collection, err)
	}
	return nil
}

func findVarCharColumn(fields []entity.Column, name string) *entity.ColumnVarChar {
	for _, field := range fields {
		if field.Name() == name {
			if vc, ok := field.(*entity.ColumnVarChar); ok {
				return vc
			}
		}
	}
	return nil
}
