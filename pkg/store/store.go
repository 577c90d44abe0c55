// Package store defines the lexical, vector, and graph store boundaries the
// retrieval core depends on, plus the bundled drivers: SQLite FTS5 for
// lexical search, Qdrant for vectors, Neo4j for the entity graph, and
// in-memory implementations for tests and embedded use.
//
// Stores are treated as remote, transiently-unavailable services: a driver
// that cannot reach its backend returns ErrUnavailable and the caller
// degrades that stage to an empty result instead of failing the query.
package store

import (
	"context"
	"errors"

	"github.com/docfuse/docfuse/pkg/types"
)

var (
	// ErrUnavailable signals a transient backend failure; callers degrade.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned for lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// Hit is one candidate returned by a lexical or vector search.
type Hit struct {
	UnitID     string         `json:"unit_id"`
	DocumentID string         `json:"document_id"`
	Modality   types.Modality `json:"modality"`
	Content    string         `json:"content"`
	// Score is the backend-native relevance score; higher is better. Scores
	// from different stores are not comparable with each other.
	Score float64 `json:"score"`
}

// LexicalStore indexes content units for full-text relevance search.
type LexicalStore interface {
	Upsert(ctx context.Context, units []*types.ContentUnit) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Close() error
}

// VectorStore indexes embedding records for nearest-neighbor search. Records
// are append-only per document; removal happens only via DeleteByDocument.
type VectorStore interface {
	Upsert(ctx context.Context, records []*types.EmbeddingRecord) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Close() error
}

// GraphStore persists deduplicated entities and relations and answers
// bounded-hop traversals. The only mutation besides document removal is the
// name-keyed entity merge performed by UpsertEntities, which is commutative
// and idempotent.
type GraphStore interface {
	UpsertEntities(ctx context.Context, entities []*types.Entity, documentID string) error
	UpsertRelations(ctx context.Context, relations []*types.Relation) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// FindEntity resolves a case-insensitive exact name match.
	FindEntity(ctx context.Context, name string) (*types.Entity, error)
	// SearchEntities returns candidate entities whose names contain the
	// fragment, for fuzzy alignment of query mentions.
	SearchEntities(ctx context.Context, fragment string, limit int) ([]*types.Entity, error)
	// Neighborhood traverses up to maxHops edges from the named entity.
	Neighborhood(ctx context.Context, entityName string, maxHops, limit int) ([]*types.GraphPath, error)
	Close() error
}
