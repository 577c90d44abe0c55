package docfuse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse/pkg/batch"
	"github.com/docfuse/docfuse/pkg/governor"
	"github.com/docfuse/docfuse/pkg/status"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0, 0, 0}
		for j, r := range t {
			v[j%3] += float32(r%13) / 13
		}
		out[i] = v
	}
	return out, nil
}

func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Close() error    { return nil }

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Extract entities") {
		return `{"entities": [
			{"name": "Alice", "type": "PERSON", "confidence": 0.9},
			{"name": "Acme", "type": "ORG", "confidence": 0.85}],
			"relations": [{"subject": "Alice", "predicate": "WORKS_AT", "object": "Acme", "confidence": 0.8}]}`, nil
	}
	if strings.HasPrefix(prompt, "List the named entities") {
		return "Alice\nAcme", nil
	}
	return "Alice works at Acme, according to the evidence.", nil
}

func (f fakeLLM) CompleteStream(ctx context.Context, prompt string) (<-chan string, error) {
	text, _ := f.Complete(ctx, prompt)
	out := make(chan string, 2)
	out <- text
	close(out)
	return out, nil
}

func (fakeLLM) Close() error { return nil }

type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, documentID string, data []byte) ([]*types.ContentUnit, error) {
	var units []*types.ContentUnit
	for i, para := range strings.Split(string(data), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		units = append(units, &types.ContentUnit{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Position:    i,
			Modality:    types.ModalityText,
			RawContent:  para,
			DerivedText: para,
		})
	}
	return units, nil
}

type idleSampler struct{}

func (idleSampler) Sample(ctx context.Context) (governor.Load, error) {
	return governor.Load{CPUPercent: 10, MemoryPercent: 20}, nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	statusStore, err := status.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { statusStore.Close() })

	client, err := NewClient(Options{
		Lexical:         store.NewMemoryLexicalStore(),
		Vector:          store.NewMemoryVectorStore(),
		Graph:           store.NewMemoryGraphStore(),
		Embedder:        fakeEmbedder{},
		LLM:             fakeLLM{},
		Extractor:       textExtractor{},
		Status:          statusStore,
		Sampler:         idleSampler{},
		Hardware:        types.HardwareProfile{LogicalCores: 8, MemoryGB: 16},
		EmbeddingWindow: batch.Config{BatchSize: 2, MaxWait: 50 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientRequiresCapabilities(t *testing.T) {
	_, err := NewClient(Options{})
	require.ErrorIs(t, err, ErrMissingCapability)

	_, err = NewClient(Options{
		Lexical: store.NewMemoryLexicalStore(),
		Vector:  store.NewMemoryVectorStore(),
		Graph:   store.NewMemoryGraphStore(),
	})
	require.ErrorIs(t, err, ErrMissingCapability)
}

func TestIngestAndQuery(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	doc := "Alice works at Acme Corporation in Berlin.\n\nAcme builds industrial widgets for the aerospace sector."
	result, err := client.IngestSync(ctx, "doc-1", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Units)
	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 1, result.Relations)

	st, err := client.Status("doc-1")
	require.NoError(t, err)
	assert.Equal(t, status.StateCompleted, st.State)
	assert.Equal(t, 100, st.Progress)

	results, err := client.Query(ctx, "Where does Alice work?")
	require.NoError(t, err)
	assert.Empty(t, results.Degraded)
	require.NotEmpty(t, results.Evidence)

	var sawPath bool
	for _, ev := range results.Evidence {
		if ev.Kind == types.EvidenceGraphPath {
			sawPath = true
			assert.Contains(t, ev.Content, "WORKS_AT")
		}
	}
	assert.True(t, sawPath, "expected graph path evidence for a known entity")
}

func TestAnswerSynthesizesFromEvidence(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.IngestSync(ctx, "doc-1", []byte("Alice works at Acme."))
	require.NoError(t, err)

	answer, results, err := client.Answer(ctx, "Where does Alice work?")
	require.NoError(t, err)
	require.NotEmpty(t, results.Evidence)
	assert.Contains(t, answer, "Acme")
}

func TestAnswerStreamDeliversChunks(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.IngestSync(ctx, "doc-1", []byte("Alice works at Acme."))
	require.NoError(t, err)

	stream, results, err := client.AnswerStream(ctx, "Where does Alice work?")
	require.NoError(t, err)
	require.NotEmpty(t, results.Evidence)
	require.NotNil(t, stream)

	var full strings.Builder
	for chunk := range stream {
		full.WriteString(chunk)
	}
	assert.Contains(t, full.String(), "Acme")
}

func TestRemoveDocument(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.IngestSync(ctx, "doc-1", []byte("Alice works at Acme."))
	require.NoError(t, err)

	require.NoError(t, client.RemoveDocument(ctx, "doc-1"))

	st, err := client.Status("doc-1")
	require.NoError(t, err)
	assert.Equal(t, status.StateRemoved, st.State)

	results, err := client.Query(ctx, "Where does Alice work?")
	require.NoError(t, err)
	for _, ev := range results.Evidence {
		assert.NotEqual(t, "doc-1", ev.DocumentID)
	}
}

func TestIngestValidatesInput(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Ingest(ctx, "", []byte("content"))
	require.Error(t, err)

	_, err = client.Ingest(ctx, "doc-1", nil)
	require.Error(t, err)
}
