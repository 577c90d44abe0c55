package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/docfuse/docfuse/pkg/types"
)

// MemoryLexicalStore is a process-local LexicalStore scored by term overlap.
type MemoryLexicalStore struct {
	mu    sync.RWMutex
	units map[string]*types.ContentUnit
}

// NewMemoryLexicalStore creates an empty in-memory lexical store.
func NewMemoryLexicalStore() *MemoryLexicalStore {
	return &MemoryLexicalStore{units: make(map[string]*types.ContentUnit)}
}

func (s *MemoryLexicalStore) Upsert(ctx context.Context, units []*types.ContentUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		s.units[u.ID] = u
	}
	return nil
}

func (s *MemoryLexicalStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.units {
		if u.DocumentID == documentID {
			delete(s.units, id)
		}
	}
	return nil
}

func (s *MemoryLexicalStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, u := range s.units {
		text := strings.ToLower(u.SearchText())
		matched := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, Hit{
			UnitID:     u.ID,
			DocumentID: u.DocumentID,
			Modality:   u.Modality,
			Content:    u.SearchText(),
			Score:      float64(matched) / float64(len(terms)),
		})
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryLexicalStore) Close() error { return nil }

// MemoryVectorStore is a process-local VectorStore using exact cosine
// similarity.
type MemoryVectorStore struct {
	mu      sync.RWMutex
	records map[string]*types.EmbeddingRecord
}

// NewMemoryVectorStore creates an empty in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{records: make(map[string]*types.EmbeddingRecord)}
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, records []*types.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.UnitID] = r
	}
	return nil
}

func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, r := range s.records {
		score := cosine(vector, r.Vector)
		if math.IsNaN(score) {
			continue
		}
		hits = append(hits, Hit{
			UnitID:     r.UnitID,
			DocumentID: r.DocumentID,
			Modality:   r.Modality,
			Content:    r.DerivedText,
			Score:      score,
		})
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryVectorStore) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sortHits orders by score descending, unit id ascending for determinism.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UnitID < hits[j].UnitID
	})
}

// MemoryGraphStore is a process-local GraphStore keyed by lowercase entity
// name, with BFS traversal for Neighborhood.
type MemoryGraphStore struct {
	mu        sync.RWMutex
	entities  map[string]*types.Entity // lowercase name -> entity
	relations map[string]*types.Relation
	docs      map[string]map[string]struct{} // documentID -> lowercase entity names
}

// NewMemoryGraphStore creates an empty in-memory graph store.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		entities:  make(map[string]*types.Entity),
		relations: make(map[string]*types.Relation),
		docs:      make(map[string]map[string]struct{}),
	}
}

func (s *MemoryGraphStore) UpsertEntities(ctx context.Context, entities []*types.Entity, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[documentID] == nil {
		s.docs[documentID] = make(map[string]struct{})
	}

	for _, e := range entities {
		key := strings.ToLower(e.Name)
		existing, ok := s.entities[key]
		if !ok {
			clone := *e
			s.entities[key] = &clone
		} else {
			// Name-keyed merge: keep the higher-confidence mention, union
			// sources, accumulate merge count.
			if e.Confidence > existing.Confidence {
				existing.Name = e.Name
				existing.Type = e.Type
				existing.Confidence = e.Confidence
			}
			existing.SourceUnitIDs = unionStrings(existing.SourceUnitIDs, e.SourceUnitIDs)
			existing.MergeCount += e.MergeCount
		}
		s.docs[documentID][key] = struct{}{}
	}
	return nil
}

func (s *MemoryGraphStore) UpsertRelations(ctx context.Context, relations []*types.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range relations {
		s.relations[r.Key()] = r
	}
	return nil
}

func (s *MemoryGraphStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.docs[documentID]
	delete(s.docs, documentID)

	for name := range names {
		// Keep entities still referenced by other documents.
		shared := false
		for _, other := range s.docs {
			if _, ok := other[name]; ok {
				shared = true
				break
			}
		}
		if !shared {
			delete(s.entities, name)
		}
	}
	for key, r := range s.relations {
		if r.DocumentID == documentID {
			delete(s.relations, key)
		}
	}
	return nil
}

func (s *MemoryGraphStore) FindEntity(ctx context.Context, name string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryGraphStore) SearchEntities(ctx context.Context, fragment string, limit int) ([]*types.Entity, error) {
	frag := strings.ToLower(fragment)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Entity
	for key, e := range s.entities {
		if frag == "" || strings.Contains(key, frag) {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryGraphStore) Neighborhood(ctx context.Context, entityName string, maxHops, limit int) ([]*types.GraphPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seedKey := strings.ToLower(entityName)
	seed, ok := s.entities[seedKey]
	if !ok {
		return nil, nil
	}

	type frontier struct {
		key  string
		hops int
	}

	visited := map[string]int{seedKey: 0}
	queue := []frontier{{key: seedKey, hops: 0}}
	var paths []*types.GraphPath

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hops >= maxHops {
			continue
		}
		for _, r := range s.relations {
			subj := strings.ToLower(r.SubjectName)
			obj := strings.ToLower(r.ObjectName)
			var next string
			switch cur.key {
			case subj:
				next = obj
			case obj:
				next = subj
			default:
				continue
			}
			if _, seen := visited[next]; seen {
				continue
			}
			neighbor, ok := s.entities[next]
			if !ok {
				continue
			}
			hops := cur.hops + 1
			visited[next] = hops
			queue = append(queue, frontier{key: next, hops: hops})

			paths = append(paths, &types.GraphPath{
				SeedEntity: seed.Name,
				Hops:       hops,
				Nodes:      []types.Entity{*seed, *neighbor},
				Relations:  []types.Relation{*r},
				// Closer neighbors are more relevant to the seed.
				Relevance: r.Confidence / float64(hops),
			})
			if limit > 0 && len(paths) >= limit {
				return paths, nil
			}
		}
	}
	return paths, nil
}

func (s *MemoryGraphStore) Close() error { return nil }

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
