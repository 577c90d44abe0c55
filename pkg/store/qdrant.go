package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/docfuse/docfuse/pkg/types"
)

// QdrantVectorStore implements VectorStore on a Qdrant collection with
// cosine distance.
type QdrantVectorStore struct {
	client     *qdrant.Client
	collection string
	dim        uint64
}

// QdrantConfig holds connection settings for a Qdrant backend.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dim is the fixed embedding dimension shared by all stores.
	Dim int
}

// NewQdrantVectorStore connects to Qdrant and ensures the collection exists.
func NewQdrantVectorStore(ctx context.Context, cfg QdrantConfig) (*QdrantVectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	s := &QdrantVectorStore{
		client:     client,
		collection: cfg.Collection,
		dim:        uint64(cfg.Dim),
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantVectorStore) Upsert(ctx context.Context, records []*types.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != int(s.dim) {
			return fmt.Errorf("record %s: vector dim %d, want %d", r.UnitID, len(r.Vector), s.dim)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.UnitID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"unit_id":     r.UnitID,
				"document_id": r.DocumentID,
				"modality":    string(r.Modality),
				"content":     r.DerivedText,
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *QdrantVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *QdrantVectorStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	lim := uint64(limit)

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, p := range results {
		hits = append(hits, Hit{
			UnitID:     p.Payload["unit_id"].GetStringValue(),
			DocumentID: p.Payload["document_id"].GetStringValue(),
			Modality:   types.Modality(p.Payload["modality"].GetStringValue()),
			Content:    p.Payload["content"].GetStringValue(),
			Score:      float64(p.Score),
		})
	}
	return hits, nil
}

func (s *QdrantVectorStore) Close() error {
	return s.client.Close()
}
