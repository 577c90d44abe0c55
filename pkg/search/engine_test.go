package search

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

type stubLexical struct {
	hits []store.Hit
	err  error
}

func (s *stubLexical) Upsert(ctx context.Context, units []*types.ContentUnit) error { return nil }
func (s *stubLexical) DeleteByDocument(ctx context.Context, documentID string) error {
	return nil
}
func (s *stubLexical) Search(ctx context.Context, query string, limit int) ([]store.Hit, error) {
	return s.hits, s.err
}
func (s *stubLexical) Close() error { return nil }

type stubVector struct {
	hits []store.Hit
	err  error
}

func (s *stubVector) Upsert(ctx context.Context, records []*types.EmbeddingRecord) error {
	return nil
}
func (s *stubVector) DeleteByDocument(ctx context.Context, documentID string) error { return nil }
func (s *stubVector) Search(ctx context.Context, vector []float32, limit int) ([]store.Hit, error) {
	return s.hits, s.err
}
func (s *stubVector) Close() error { return nil }

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Close() error    { return nil }

func hit(unitID string, score float64) store.Hit {
	return store.Hit{UnitID: unitID, DocumentID: "doc-" + unitID, Modality: types.ModalityText, Content: unitID, Score: score}
}

func newTestExtractor(t *testing.T, graph store.GraphStore) *QueryEntityExtractor {
	t.Helper()
	pattern, err := NewPatternStrategy(nil)
	require.NoError(t, err)
	return NewQueryEntityExtractor([]EntityStrategy{pattern}, graph, 0.8, nil)
}

func TestQueryFusesWithRRF(t *testing.T) {
	lexical := &stubLexical{hits: []store.Hit{hit("docX", 3.0), hit("docY", 2.0)}}
	vector := &stubVector{hits: []store.Hit{hit("docY", 0.95), hit("docZ", 0.90)}}
	graph := store.NewMemoryGraphStore()

	e := NewEngine(lexical, vector, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "anything at all")
	require.NoError(t, err)
	require.Len(t, results.Evidence, 3)
	assert.Empty(t, results.Degraded)

	assert.Equal(t, "docY", results.Evidence[0].UnitID)
	assert.Equal(t, "docX", results.Evidence[1].UnitID)
	assert.Equal(t, "docZ", results.Evidence[2].UnitID)

	// k=60, 1-based ranks: docY in both lists, docX and docZ in one each.
	assert.InDelta(t, 1.0/62+1.0/61, results.Evidence[0].Score, 1e-9)
	assert.InDelta(t, 1.0/61, results.Evidence[1].Score, 1e-9)
	assert.InDelta(t, 1.0/62, results.Evidence[2].Score, 1e-9)

	assert.ElementsMatch(t, []types.EvidenceSource{types.SourceLexical, types.SourceVector}, results.Evidence[0].Sources)
}

func TestQueryRRFIsDeterministic(t *testing.T) {
	lexical := &stubLexical{hits: []store.Hit{hit("a", 2), hit("b", 1)}}
	vector := &stubVector{hits: []store.Hit{hit("b", 0.9), hit("c", 0.8)}}
	graph := store.NewMemoryGraphStore()
	e := NewEngine(lexical, vector, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	first, err := e.Query(context.Background(), "stable ordering")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Query(context.Background(), "stable ordering")
		require.NoError(t, err)
		require.Equal(t, len(first.Evidence), len(again.Evidence))
		for j := range first.Evidence {
			assert.Equal(t, first.Evidence[j].UnitID, again.Evidence[j].UnitID)
			assert.Equal(t, first.Evidence[j].Score, again.Evidence[j].Score)
		}
	}
}

func TestQueryDegradesFailedStages(t *testing.T) {
	lexical := &stubLexical{err: store.ErrUnavailable}
	vector := &stubVector{hits: []store.Hit{hit("docA", 0.9)}}
	graph := store.NewMemoryGraphStore()

	e := NewEngine(lexical, vector, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "best effort")
	require.NoError(t, err)
	assert.Equal(t, []types.EvidenceSource{types.SourceLexical}, results.Degraded)
	require.Len(t, results.Evidence, 1)
	assert.Equal(t, "docA", results.Evidence[0].UnitID)
	// Sole firing source keeps its native score scale.
	assert.Equal(t, 0.9, results.Evidence[0].Score)
}

func TestQueryEmptyVectorStoreDoesNotDegrade(t *testing.T) {
	lexical := &stubLexical{hits: []store.Hit{hit("docA", 1.0)}}
	vector := &stubVector{}
	graph := store.NewMemoryGraphStore()

	e := NewEngine(lexical, vector, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "lexical only")
	require.NoError(t, err)
	assert.Empty(t, results.Degraded)
	require.Len(t, results.Evidence, 1)
}

func TestQueryGraphPathsAreSeparateEvidence(t *testing.T) {
	graph := store.NewMemoryGraphStore()
	ctx := context.Background()
	require.NoError(t, graph.UpsertEntities(ctx, []*types.Entity{
		{ID: "1", Name: "Alice", Type: "PERSON", Confidence: 0.9},
		{ID: "2", Name: "Acme", Type: "ORG", Confidence: 0.9},
	}, "d1"))
	require.NoError(t, graph.UpsertRelations(ctx, []*types.Relation{
		{ID: "r1", SubjectName: "Alice", Predicate: "WORKS_AT", ObjectName: "Acme", Confidence: 0.8, DocumentID: "d1"},
	}))

	lexical := &stubLexical{hits: []store.Hit{hit("docA", 1.0)}}
	e := NewEngine(lexical, &stubVector{}, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(ctx, "Where does Alice work?")
	require.NoError(t, err)

	var fusedCount, pathCount int
	for _, ev := range results.Evidence {
		switch ev.Kind {
		case types.EvidenceFused:
			fusedCount++
		case types.EvidenceGraphPath:
			pathCount++
			require.NotNil(t, ev.Path)
			assert.Contains(t, ev.Content, "WORKS_AT")
		}
	}
	assert.Equal(t, 1, fusedCount)
	assert.GreaterOrEqual(t, pathCount, 1)
}

func TestQueryNoEntitiesSkipsGraphStage(t *testing.T) {
	graph := store.NewMemoryGraphStore()
	lexical := &stubLexical{hits: []store.Hit{hit("docA", 1.0)}}
	e := NewEngine(lexical, &stubVector{}, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "plain lowercase words only")
	require.NoError(t, err)
	assert.Empty(t, results.Degraded)
	for _, ev := range results.Evidence {
		assert.NotEqual(t, types.EvidenceGraphPath, ev.Kind)
	}
}

func TestQueryMultimediaFirstAtEqualScore(t *testing.T) {
	textHit := store.Hit{UnitID: "t1", DocumentID: "d1", Modality: types.ModalityText, Content: "text", Score: 1.0}
	imageHit := store.Hit{UnitID: "i1", DocumentID: "d1", Modality: types.ModalityImage, Content: "image", Score: 1.0}

	// Same ranks in their respective sources, so fused scores tie.
	lexical := &stubLexical{hits: []store.Hit{textHit}}
	vector := &stubVector{hits: []store.Hit{imageHit}}
	graph := store.NewMemoryGraphStore()

	e := NewEngine(lexical, vector, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "tie breaking")
	require.NoError(t, err)
	require.Len(t, results.Evidence, 2)
	assert.Equal(t, "i1", results.Evidence[0].UnitID)
	assert.Equal(t, "t1", results.Evidence[1].UnitID)
}

type reverseReranker struct{}

func (reverseReranker) Rerank(ctx context.Context, query string, evidence []types.Evidence) ([]types.Evidence, error) {
	out := make([]types.Evidence, len(evidence))
	for i, ev := range evidence {
		out[len(evidence)-1-i] = ev
	}
	return out, nil
}

func TestQueryRerankerReordersWithoutChangingMembership(t *testing.T) {
	lexical := &stubLexical{hits: []store.Hit{hit("a", 3), hit("b", 2), hit("c", 1)}}
	graph := store.NewMemoryGraphStore()
	e := NewEngine(lexical, &stubVector{}, graph, &stubEmbedder{}, newTestExtractor(t, graph), reverseReranker{}, DefaultConfig(), nil)

	results, err := e.Query(context.Background(), "rerank me")
	require.NoError(t, err)
	require.Len(t, results.Evidence, 3)
	assert.Equal(t, "c", results.Evidence[0].UnitID)
	assert.Equal(t, "a", results.Evidence[2].UnitID)
}

func TestQueryRespectsLimit(t *testing.T) {
	var hits []store.Hit
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		hits = append(hits, hit(id, 1))
	}
	cfg := DefaultConfig()
	cfg.Limit = 3
	graph := store.NewMemoryGraphStore()
	e := NewEngine(&stubLexical{hits: hits}, &stubVector{}, graph, &stubEmbedder{}, newTestExtractor(t, graph), nil, cfg, nil)

	results, err := e.Query(context.Background(), "limited")
	require.NoError(t, err)
	assert.Len(t, results.Evidence, 3)
	assert.Equal(t, 3, results.Total)
}

func TestQueryScoreThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreThreshold = 0.5
	graph := store.NewMemoryGraphStore()
	e := NewEngine(&stubLexical{hits: []store.Hit{hit("a", 0.9), hit("b", 0.2)}}, &stubVector{}, graph,
		&stubEmbedder{}, newTestExtractor(t, graph), nil, cfg, nil)

	results, err := e.Query(context.Background(), "threshold")
	require.NoError(t, err)
	require.Len(t, results.Evidence, 1)
	assert.Equal(t, "a", results.Evidence[0].UnitID)
}

func TestQueryEmptyQueryErrors(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, nil, nil, DefaultConfig(), nil)
	_, err := e.Query(context.Background(), "")
	require.Error(t, err)
}

func TestFuseAbsentSourceContributesNothing(t *testing.T) {
	lists := []rankedList{
		{source: types.SourceLexical, hits: []store.Hit{hit("x", 1)}},
		{source: types.SourceVector, hits: nil},
	}
	out := fuse(lists, 60)
	require.Len(t, out, 1)
	assert.True(t, math.Abs(out[0].score-1.0/61) < 1e-12)
}

func TestPatternStrategyRejectsBadRule(t *testing.T) {
	_, err := NewPatternStrategy([]PatternRule{{Name: "bad", Pattern: "("}})
	require.Error(t, err)
}

func TestQueryEntityExtractorFuzzyAlignment(t *testing.T) {
	ctx := context.Background()
	graph := store.NewMemoryGraphStore()
	require.NoError(t, graph.UpsertEntities(ctx, []*types.Entity{
		{ID: "1", Name: "Kubernetes", Type: "PRODUCT", Confidence: 0.9},
	}, "d1"))

	x := newTestExtractor(t, graph)

	// Exact match, case-insensitive.
	entities, err := x.Extract(ctx, "Tell me about Kubernetes")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Kubernetes", entities[0].Name)

	// One-letter typo still aligns through the fuzzy pass.
	entities, err = x.Extract(ctx, "Tell me about Kubernates")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Kubernetes", entities[0].Name)
}
