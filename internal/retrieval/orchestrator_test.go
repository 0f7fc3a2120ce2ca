package retrieval

import (
	"context"
	"testing"

	"Minerva/internal/models"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (fakeEmbedder) ModelName() string { return "fake" }

type fakeSearcher struct {
	hits map[string][]vectorstore.Hit
}

func (f *fakeSearcher) Search(_ context.Context, collection string, _ []float32, _ int) ([]vectorstore.Hit, error) {
	return f.hits[collection], nil
}

type fakeFetcher struct {
	chunks map[string]*models.DocChunk
	docs   map[string]*models.Doc
}

func (f *fakeFetcher) GetChunksByIDs(_ context.Context, ids []string) ([]*models.DocChunk, error) {
	var out []*models.DocChunk
	for _, id := range ids {
		if chunk, ok := f.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (f *fakeFetcher) GetDocsByIDs(_ context.Context, ids []string) (map[string]*models.Doc, error) {
	out := map[string]*models.Doc{}
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func chunk(id, docID, content string) *models.DocChunk {
	return &models.DocChunk{ChunkID: id, DocID: docID, Content: content}
}

func hit(id, collection string, score float32) vectorstore.Hit {
	return vectorstore.Hit{ID: id, OwnerID: id, Collection: collection, Score: score}
}

func newTestOrchestrator(searcher *fakeSearcher, fetcher *fakeFetcher) *Orchestrator {
	priorities := map[string]int{"ops": 1, "general": 2}
	return NewOrchestrator(searcher, fetcher, fakeEmbedder{}, priorities, logger.New("retrieval_test", "", ""))
}

func TestRetrieveFiltersBelowFloor(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.Hit{
		"ops": {hit("c1", "ops", 0.9), hit("c2", "ops", 0.3)},
	}}
	fetcher := &fakeFetcher{
		chunks: map[string]*models.DocChunk{"c1": chunk("c1", "d1", "alpha"), "c2": chunk("c2", "d2", "beta")},
		docs:   map[string]*models.Doc{"d1": {DocID: "d1", Title: "Doc 1"}, "d2": {DocID: "d2", Title: "Doc 2"}},
	}

	results, err := newTestOrchestrator(searcher, fetcher).Retrieve(context.Background(), "q", []string{"ops"}, 10, 0.5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("results = %+v, want only c1 (c2 below floor)", results)
	}
}

func TestRetrieveDedupesByDocKeepingBestChunk(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.Hit{
		"ops": {hit("c1", "ops", 0.7), hit("c2", "ops", 0.9)},
	}}
	fetcher := &fakeFetcher{
		chunks: map[string]*models.DocChunk{"c1": chunk("c1", "d1", "alpha"), "c2": chunk("c2", "d1", "beta")},
		docs:   map[string]*models.Doc{"d1": {DocID: "d1", Title: "Doc 1"}},
	}

	results, err := newTestOrchestrator(searcher, fetcher).Retrieve(context.Background(), "q", []string{"ops"}, 10, 0.5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len = %d, want 1 (one chunk per doc)", len(results))
	}
	if results[0].ChunkID != "c2" || results[0].Content != "beta" {
		t.Errorf("kept chunk = %+v, want the higher-scoring c2", results[0])
	}
}

func TestRetrieveRanksByScoreThenCollectionPriority(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.Hit{
		"general": {hit("c1", "general", 0.8)},
		"ops":     {hit("c2", "ops", 0.8), hit("c3", "ops", 0.95)},
	}}
	fetcher := &fakeFetcher{
		chunks: map[string]*models.DocChunk{
			"c1": chunk("c1", "d1", "general text"),
			"c2": chunk("c2", "d2", "ops text"),
			"c3": chunk("c3", "d3", "best text"),
		},
		docs: map[string]*models.Doc{
			"d1": {DocID: "d1"}, "d2": {DocID: "d2"}, "d3": {DocID: "d3"},
		},
	}

	results, err := newTestOrchestrator(searcher, fetcher).Retrieve(context.Background(), "q", []string{"ops", "general"}, 10, 0.5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	if results[0].ChunkID != "c3" {
		t.Errorf("first = %s, want c3 (highest score)", results[0].ChunkID)
	}
	// Equal scores: the ops collection outranks general.
	if results[1].ChunkID != "c2" || results[2].ChunkID != "c1" {
		t.Errorf("tie order = [%s %s], want [c2 c1]", results[1].ChunkID, results[2].ChunkID)
	}
}

func TestRetrieveDropsHitsWithoutRelationalRow(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.Hit{
		"ops": {hit("c1", "ops", 0.9), hit("ghost", "ops", 0.95)},
	}}
	fetcher := &fakeFetcher{
		chunks: map[string]*models.DocChunk{"c1": chunk("c1", "d1", "alpha")},
		docs:   map[string]*models.Doc{"d1": {DocID: "d1"}},
	}

	results, err := newTestOrchestrator(searcher, fetcher).Retrieve(context.Background(), "q", []string{"ops"}, 10, 0.5)
	if err != nil {
		t.Fatalf("Retrieve must not fail on a consistency gap: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("results = %+v, want the ghost hit dropped", results)
	}
}

func TestRetrieveCapsAtTopK(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.Hit{
		"ops": {hit("c1", "ops", 0.9), hit("c2", "ops", 0.8), hit("c3", "ops", 0.7)},
	}}
	fetcher := &fakeFetcher{
		chunks: map[string]*models.DocChunk{
			"c1": chunk("c1", "d1", "a"), "c2": chunk("c2", "d2", "b"), "c3": chunk("c3", "d3", "c"),
		},
		docs: map[string]*models.Doc{"d1": {DocID: "d1"}, "d2": {DocID: "d2"}, "d3": {DocID: "d3"}},
	}

	results, err := newTestOrchestrator(searcher, fetcher).Retrieve(context.Background(), "q", []string{"ops"}, 2, 0.5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want topK=2", len(results))
	}
}
