// Package retrieval implements multi-collection semantic retrieval: fan
// out the query across collections, merge, deduplicate per source
// document, and read the authoritative text back from the relational
// store. Vector payloads never carry text, so the read-through is not an
// optimization but the only way to produce content at all.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"Minerva/internal/cerrors"
	"Minerva/internal/dal"
	"Minerva/internal/embedding"
	"Minerva/internal/models"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Result is one ranked retrieval hit with its authoritative text.
type Result struct {
	ChunkID    string
	DocID      string
	DocTitle   string
	Collection string
	Score      float32
	Content    string
}

// Searcher is the vector-search surface the orchestrator needs.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Hit, error)
}

// ChunkFetcher is the relational read-through surface.
type ChunkFetcher interface {
	GetChunksByIDs(ctx context.Context, chunkIDs []string) ([]*models.DocChunk, error)
	GetDocsByIDs(ctx context.Context, docIDs []string) (map[string]*models.Doc, error)
}

var (
	_ Searcher     = (*vectorstore.Store)(nil)
	_ ChunkFetcher = (*dal.DocDAL)(nil)
)

// Orchestrator coordinates one retrieval pass over a set of collections.
type Orchestrator struct {
	vectors    Searcher
	docs       ChunkFetcher
	embedder   embedding.Embedding
	priorities map[string]int
	log        *logger.Logger
}

// NewOrchestrator creates an Orchestrator. priorities maps collection name
// to rank; lower outranks higher at equal similarity.
func NewOrchestrator(vectors Searcher, docs ChunkFetcher, embedder embedding.Embedding, priorities map[string]int, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		vectors:    vectors,
		docs:       docs,
		embedder:   embedder,
		priorities: priorities,
		log:        log,
	}
}

// Retrieve embeds the query once, searches every collection concurrently,
// and returns at most topK deduplicated results ordered by descending
// score with collection priority breaking ties. Hits below floor are
// discarded; hits whose chunk row vanished are dropped and logged, never
// fatal.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, collections []string, topK int, floor float32) ([]Result, error) {
	if len(collections) == 0 {
		return nil, nil
	}

	queryVec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var mu sync.Mutex
	var hits []vectorstore.Hit

	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range collections {
		collection := collection
		g.Go(func() error {
			collectionHits, err := o.vectors.Search(gctx, collection, queryVec, topK)
			if err != nil {
				return fmt.Errorf("search in %q: %w", collection, err)
			}
			mu.Lock()
			for _, hit := range collectionHits {
				if hit.Score >= floor {
					hits = append(hits, hit)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	results, err := o.readThrough(ctx, hits)
	if err != nil {
		return nil, err
	}

	results = dedupeByDoc(results)
	o.rank(results)

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// readThrough fetches the authoritative chunk text for each hit. A hit
// whose chunk row no longer exists is a consistency gap: logged, dropped,
// and left for reconciliation.
func (o *Orchestrator) readThrough(ctx context.Context, hits []vectorstore.Hit) ([]Result, error) {
	chunkIDs := make([]string, len(hits))
	for i, hit := range hits {
		chunkIDs[i] = hit.OwnerID
	}
	chunks, err := o.docs.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("chunk read-through failed: %w", err)
	}
	chunkByID := make(map[string]*models.DocChunk, len(chunks))
	docIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunkByID[chunk.ChunkID] = chunk
		docIDs = append(docIDs, chunk.DocID)
	}
	docsByID, err := o.docs.GetDocsByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("doc read-through failed: %w", err)
	}

	var results []Result
	for _, hit := range hits {
		chunk, ok := chunkByID[hit.OwnerID]
		if !ok {
			gap := &cerrors.ConsistencyGapError{Collection: hit.Collection, RecordID: hit.OwnerID}
			o.log.WithError(models.ErrorInfo{Message: gap.Error(), Type: "consistency_gap"}).
				Warn("dropping retrieval hit without relational row")
			continue
		}
		result := Result{
			ChunkID:    chunk.ChunkID,
			DocID:      chunk.DocID,
			Collection: hit.Collection,
			Score:      hit.Score,
			Content:    chunk.Content,
		}
		if doc, ok := docsByID[chunk.DocID]; ok {
			result.DocTitle = doc.Title
		}
		results = append(results, result)
	}
	return results, nil
}

// dedupeByDoc keeps only the highest-scoring chunk of each source document.
func dedupeByDoc(results []Result) []Result {
	best := make(map[string]Result, len(results))
	for _, result := range results {
		if prev, ok := best[result.DocID]; !ok || result.Score > prev.Score {
			best[result.DocID] = result
		}
	}
	out := make([]Result, 0, len(best))
	for _, result := range best {
		out = append(out, result)
	}
	return out
}

// rank orders results by descending score; equal scores fall back to the
// configured collection priority, lower first.
func (o *Orchestrator) rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return o.priority(results[i].Collection) < o.priority(results[j].Collection)
	})
}

func (o *Orchestrator) priority(collection string) int {
	if p, ok := o.priorities[collection]; ok {
		return p
	}
	return int(^uint(0) >> 1)
}
