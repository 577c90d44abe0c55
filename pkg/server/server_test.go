package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse"
	"github.com/docfuse/docfuse/pkg/batch"
	"github.com/docfuse/docfuse/pkg/config"
	"github.com/docfuse/docfuse/pkg/governor"
	"github.com/docfuse/docfuse/pkg/status"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Close() error    { return nil }

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Extract entities") {
		return `{"entities": [{"name": "Acme", "type": "ORG", "confidence": 0.9}], "relations": []}`, nil
	}
	return "Acme is mentioned in the evidence.", nil
}
func (f fakeLLM) CompleteStream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 1)
	text, _ := f.Complete(ctx, prompt)
	out <- text
	close(out)
	return out, nil
}
func (fakeLLM) Close() error { return nil }

type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, documentID string, data []byte) ([]*types.ContentUnit, error) {
	return []*types.ContentUnit{{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Modality:    types.ModalityText,
		RawContent:  string(data),
		DerivedText: string(data),
	}}, nil
}

type idleSampler struct{}

func (idleSampler) Sample(ctx context.Context) (governor.Load, error) {
	return governor.Load{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	statusStore, err := status.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { statusStore.Close() })

	client, err := docfuse.NewClient(docfuse.Options{
		Lexical:         store.NewMemoryLexicalStore(),
		Vector:          store.NewMemoryVectorStore(),
		Graph:           store.NewMemoryGraphStore(),
		Embedder:        fakeEmbedder{},
		LLM:             fakeLLM{},
		Extractor:       textExtractor{},
		Status:          statusStore,
		Sampler:         idleSampler{},
		Hardware:        types.HardwareProfile{LogicalCores: 8, MemoryGB: 16},
		EmbeddingWindow: batch.Config{BatchSize: 1, MaxWait: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	srv := New(&config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 0, Mode: "test"},
	}, client)
	srv.Setup()
	return srv
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/live", "/ready"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestIngestStatusAndQuery(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"document_id": "d1",
		"content":     base64.StdEncoding.EncodeToString([]byte("Acme builds widgets.")),
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// Poll status until the async ingestion completes.
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/d1/status", nil)
		srv.Router().ServeHTTP(w, req)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"state":"completed"`)
	}, 5*time.Second, 50*time.Millisecond)

	body, _ = json.Marshal(map[string]any{"query": "who builds widgets"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "widgets")
}

func TestIngestRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(map[string]string{"document_id": "d1", "content": "not base64!!"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownDocument(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/nope/status", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
