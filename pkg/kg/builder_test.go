package kg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

type scriptedLLM struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 1)
	out <- s.response
	close(out)
	return out, nil
}

func (s *scriptedLLM) Close() error { return nil }

func TestDeduplicateKeepsHighestConfidence(t *testing.T) {
	b := NewBuilder(nil, nil, store.NewMemoryGraphStore(), nil)

	entities := []*types.Entity{
		{ID: "1", Name: "量子计算", Type: "CONCEPT", Confidence: 0.9, SourceUnitIDs: []string{"A"}, MergeCount: 1},
		{ID: "2", Name: "量子计算", Type: "CONCEPT", Confidence: 0.7, SourceUnitIDs: []string{"B"}, MergeCount: 1},
	}

	out := b.Deduplicate(entities)
	require.Len(t, out, 1)
	assert.Equal(t, "量子计算", out[0].Name)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, 2, out[0].MergeCount)
	assert.ElementsMatch(t, []string{"A", "B"}, out[0].SourceUnitIDs)

	// Idempotent: a second application changes nothing.
	again := b.Deduplicate(out)
	require.Len(t, again, 1)
	assert.Equal(t, out[0], again[0])
}

func TestDeduplicateIsCaseInsensitive(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil)

	out := b.Deduplicate([]*types.Entity{
		{ID: "1", Name: "OpenAI", Type: "ORG", Confidence: 0.8, SourceUnitIDs: []string{"u1"}},
		{ID: "2", Name: "openai", Type: "ORG", Confidence: 0.95, SourceUnitIDs: []string{"u2"}},
	})
	require.Len(t, out, 1)
	// The higher-confidence mention supplies the canonical casing.
	assert.Equal(t, "openai", out[0].Name)
	assert.Equal(t, 0.95, out[0].Confidence)
}

func TestOptimizeRelationsDropsOrphans(t *testing.T) {
	b := NewBuilder(nil, nil, nil, nil)

	entities := b.Deduplicate([]*types.Entity{
		{ID: "1", Name: "A", Type: "ORG", Confidence: 0.9, SourceUnitIDs: []string{"u"}},
		{ID: "2", Name: "B-Corp", Type: "ORG", Confidence: 0.9, SourceUnitIDs: []string{"u"}},
	})

	relations := []*types.Relation{
		// "B" was merged into "B-Corp" during dedup, so this endpoint no
		// longer resolves.
		{ID: "r1", SubjectName: "A", Predicate: "WORKS_AT", ObjectName: "B", Confidence: 0.8},
		{ID: "r2", SubjectName: "A", Predicate: "PARTNERS_WITH", ObjectName: "B-Corp", Confidence: 0.8},
		{ID: "r3", SubjectName: "a", Predicate: "PARTNERS_WITH", ObjectName: "b-corp", Confidence: 0.8},
	}

	out := b.OptimizeRelations(relations, entities)
	require.Len(t, out, 1)
	assert.Equal(t, "r2", out[0].ID)
}

func TestTableStrategy(t *testing.T) {
	s := NewTableStrategy()
	unit := &types.ContentUnit{
		ID:         "u1",
		DocumentID: "d1",
		Modality:   types.ModalityTable,
		RawContent: "Region | Product | Revenue\n--- | --- | ---\nEMEA | Widget | 1,200\nAPAC | Gadget | 900",
	}

	entities, relations, err := s.Extract(context.Background(), unit)
	require.NoError(t, err)

	byType := map[string][]string{}
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e.Name)
		switch e.Type {
		case TypeTableField:
			assert.Equal(t, 0.9, e.Confidence)
		case TypeTableValue:
			assert.Equal(t, 0.7, e.Confidence)
		}
	}
	assert.ElementsMatch(t, []string{"Region", "Product", "Revenue"}, byType[TypeTableField])
	// Numeric cells are not entities.
	assert.ElementsMatch(t, []string{"EMEA", "Widget", "APAC", "Gadget"}, byType[TypeTableValue])

	require.Len(t, relations, 2)
	for _, r := range relations {
		assert.Equal(t, PredicateRelatedField, r.Predicate)
		assert.Equal(t, 0.6, r.Confidence)
	}
	assert.Equal(t, "Region", relations[0].SubjectName)
	assert.Equal(t, "Product", relations[0].ObjectName)
}

func TestChartStrategy(t *testing.T) {
	s := NewChartStrategy()
	unit := &types.ContentUnit{
		ID:         "u1",
		DocumentID: "d1",
		Modality:   types.ModalityChart,
		Metadata: map[string]interface{}{
			"chart_type":  "bar chart",
			"axis_labels": []string{"Quarter", "Revenue"},
			"series":      []string{"2024", "2025"},
		},
	}

	entities, relations, err := s.Extract(context.Background(), unit)
	require.NoError(t, err)

	byType := map[string][]string{}
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e.Name)
	}
	assert.ElementsMatch(t, []string{"Quarter", "Revenue"}, byType[TypeChartAxis])
	assert.ElementsMatch(t, []string{"2024", "2025"}, byType[TypeChartSeries])

	require.Len(t, relations, 2)
	for _, r := range relations {
		assert.Equal(t, PredicateDisplayedIn, r.Predicate)
		assert.Equal(t, "bar chart", r.ObjectName)
		assert.Equal(t, 0.8, r.Confidence)
	}
}

func TestTextStrategyParsesModelJSON(t *testing.T) {
	llm := &scriptedLLM{response: `Here you go:
{"entities": [{"name": "Alice", "type": "PERSON", "confidence": 0.9}],
 "relations": [{"subject": "Alice", "predicate": "WORKS_AT", "object": "Acme", "confidence": 0.8}]}`}
	s := NewTextStrategy(llm, nil)

	entities, relations, err := s.Extract(context.Background(), &types.ContentUnit{
		ID: "u1", DocumentID: "d1", Modality: types.ModalityText, RawContent: "Alice works at Acme.",
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Alice", entities[0].Name)
	assert.Equal(t, []string{"u1"}, entities[0].SourceUnitIDs)
	require.Len(t, relations, 1)
	assert.Equal(t, "WORKS_AT", relations[0].Predicate)
	assert.Equal(t, "d1", relations[0].DocumentID)
}

func TestTextStrategyRepairsDamagedJSON(t *testing.T) {
	// Trailing comma and unquoted key.
	llm := &scriptedLLM{response: `{"entities": [{name: "Acme", "type": "ORG", "confidence": 0.8},], "relations": []}`}
	s := NewTextStrategy(llm, nil)

	entities, _, err := s.Extract(context.Background(), &types.ContentUnit{
		ID: "u1", DocumentID: "d1", Modality: types.ModalityText, RawContent: "Acme.",
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme", entities[0].Name)
}

func TestTextStrategyFallbackParser(t *testing.T) {
	llm := &scriptedLLM{response: `I could not produce JSON, but here is what I found:
Alice | PERSON | 0.9
Acme | ORG | 0.8
(Alice, works at, Acme)`}
	s := NewTextStrategy(llm, nil)

	entities, relations, err := s.Extract(context.Background(), &types.ContentUnit{
		ID: "u1", DocumentID: "d1", Modality: types.ModalityText, RawContent: "Alice works at Acme.",
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Alice", entities[0].Name)
	assert.Equal(t, "PERSON", entities[0].Type)
	require.Len(t, relations, 1)
	assert.Equal(t, "WORKS_AT", relations[0].Predicate)
}

func TestExtractAllIsolatesUnitFailures(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model offline")}
	b := NewBuilder(llm, nil, store.NewMemoryGraphStore(), nil)

	units := []*types.ContentUnit{
		{ID: "u1", DocumentID: "d1", Modality: types.ModalityText, RawContent: "some prose"},
		{ID: "u2", DocumentID: "d1", Modality: types.ModalityTable, RawContent: "Name | Role\nAlice | Engineer"},
	}

	entities, _ := b.ExtractAll(context.Background(), units)
	// The text unit failed; the table unit still contributed.
	require.NotEmpty(t, entities)
	for _, e := range entities {
		assert.Equal(t, []string{"u2"}, e.SourceUnitIDs)
	}
}

func TestBuildPersistsEntitiesBeforeRelations(t *testing.T) {
	graph := store.NewMemoryGraphStore()
	b := NewBuilder(&scriptedLLM{response: `{"entities": [
		{"name": "Alice", "type": "PERSON", "confidence": 0.9},
		{"name": "Acme", "type": "ORG", "confidence": 0.85}],
		"relations": [{"subject": "Alice", "predicate": "WORKS_AT", "object": "Acme", "confidence": 0.8}]}`},
		nil, graph, nil)

	units := []*types.ContentUnit{
		{ID: "u1", DocumentID: "d1", Modality: types.ModalityText, RawContent: "Alice works at Acme."},
	}

	entities, relations, err := b.Build(context.Background(), units, "d1")
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Len(t, relations, 1)

	paths, err := graph.Neighborhood(context.Background(), "Alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}

func TestImageStrategyTagsWithoutOCR(t *testing.T) {
	s := NewImageStrategy(nil, nil, nil)

	entities, relations, err := s.Extract(context.Background(), &types.ContentUnit{
		ID: "u1", DocumentID: "d1", Modality: types.ModalityImage,
		Metadata: map[string]interface{}{"tags": []string{"dog", "frisbee"}},
	})
	require.NoError(t, err)
	assert.Empty(t, relations)
	require.Len(t, entities, 2)
	for _, e := range entities {
		assert.Equal(t, TypeImageObject, e.Type)
		assert.Equal(t, 0.8, e.Confidence)
	}
}
