package kg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/ocr"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

// Builder turns classified content units into a deduplicated entity/relation
// set and persists it. One extraction strategy exists per modality, selected
// at entry; a unit whose extraction fails contributes an empty pair and does
// not abort the rest of the batch.
type Builder struct {
	strategies map[types.Modality]Strategy
	graph      store.GraphStore
	logger     *slog.Logger
}

// NewBuilder wires the per-modality strategies. The OCR client may be nil
// when image units always carry DerivedText.
func NewBuilder(llm nlp.Client, ocrClient ocr.Client, graph store.GraphStore, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	text := NewTextStrategy(llm, logger)
	return &Builder{
		strategies: map[types.Modality]Strategy{
			types.ModalityText:  text,
			types.ModalityTable: NewTableStrategy(),
			types.ModalityImage: NewImageStrategy(ocrClient, text, logger),
			types.ModalityChart: NewChartStrategy(),
		},
		graph:  graph,
		logger: logger,
	}
}

// Extract dispatches a unit to its modality strategy. Unknown modalities go
// through the text strategy.
func (b *Builder) Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	strategy, ok := b.strategies[unit.Modality]
	if !ok {
		strategy = b.strategies[types.ModalityText]
	}
	return strategy.Extract(ctx, unit)
}

// ExtractAll runs Extract over every unit, isolating per-unit failures.
func (b *Builder) ExtractAll(ctx context.Context, units []*types.ContentUnit) ([]*types.Entity, []*types.Relation) {
	var entities []*types.Entity
	var relations []*types.Relation

	for _, unit := range units {
		e, r, err := b.Extract(ctx, unit)
		if err != nil {
			b.logger.Warn("unit extraction failed, continuing",
				"unit_id", unit.ID,
				"modality", unit.Modality,
				"error", err)
			continue
		}
		entities = append(entities, e...)
		relations = append(relations, r...)
	}
	return entities, relations
}

// Deduplicate groups entities by case-insensitive exact name. The highest
// confidence mention in a group supplies the canonical fields; all source
// unit ids are unioned and merge counts accumulate. Applying Deduplicate to
// its own output is a no-op.
func (b *Builder) Deduplicate(entities []*types.Entity) []*types.Entity {
	type group struct {
		canonical *types.Entity
		sources   mapset.Set[string]
		count     int
	}

	groups := make(map[string]*group)
	var order []string

	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Name))
		if key == "" {
			continue
		}

		mergeCount := e.MergeCount
		if mergeCount < 1 {
			mergeCount = 1
		}

		g, ok := groups[key]
		if !ok {
			g = &group{sources: mapset.NewThreadUnsafeSet[string]()}
			groups[key] = g
			order = append(order, key)
		}
		g.sources.Append(e.SourceUnitIDs...)
		g.count += mergeCount
		if g.canonical == nil || e.Confidence > g.canonical.Confidence {
			g.canonical = e
		}
	}

	out := make([]*types.Entity, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		sources := g.sources.ToSlice()
		sort.Strings(sources)
		out = append(out, &types.Entity{
			ID:            g.canonical.ID,
			Name:          g.canonical.Name,
			Type:          g.canonical.Type,
			Confidence:    g.canonical.Confidence,
			SourceUnitIDs: sources,
			MergeCount:    g.count,
		})
	}
	return out
}

// OptimizeRelations drops relations whose endpoints no longer resolve to a
// canonical entity, and exact-duplicate triples. Dropped orphans are logged;
// a name that was merged away during dedup is the usual cause.
func (b *Builder) OptimizeRelations(relations []*types.Relation, entities []*types.Entity) []*types.Relation {
	known := mapset.NewThreadUnsafeSet[string]()
	for _, e := range entities {
		known.Add(strings.ToLower(e.Name))
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]*types.Relation, 0, len(relations))
	for _, r := range relations {
		subject := strings.ToLower(strings.TrimSpace(r.SubjectName))
		object := strings.ToLower(strings.TrimSpace(r.ObjectName))

		if !known.Contains(subject) || !known.Contains(object) {
			b.logger.Info("dropping relation with unresolved endpoint",
				"subject", r.SubjectName,
				"predicate", r.Predicate,
				"object", r.ObjectName)
			continue
		}

		key := subject + "\x00" + strings.ToLower(r.Predicate) + "\x00" + object
		if !seen.Add(key) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Persist writes entities before relations so endpoint lookups succeed. The
// graph store skips, rather than fails on, a relation whose endpoint is
// unexpectedly missing at write time.
func (b *Builder) Persist(ctx context.Context, entities []*types.Entity, relations []*types.Relation, documentID string) error {
	if b.graph == nil {
		return fmt.Errorf("builder has no graph store")
	}

	if len(entities) > 0 {
		if err := b.graph.UpsertEntities(ctx, entities, documentID); err != nil {
			return fmt.Errorf("persist entities: %w", err)
		}
	}
	if len(relations) > 0 {
		if err := b.graph.UpsertRelations(ctx, relations); err != nil {
			return fmt.Errorf("persist relations: %w", err)
		}
	}

	b.logger.Debug("graph persisted",
		"document_id", documentID,
		"entities", len(entities),
		"relations", len(relations))
	return nil
}

// Build runs the full pipeline for one document's units: extract, dedup,
// integrity check, persist.
func (b *Builder) Build(ctx context.Context, units []*types.ContentUnit, documentID string) ([]*types.Entity, []*types.Relation, error) {
	rawEntities, rawRelations := b.ExtractAll(ctx, units)
	entities := b.Deduplicate(rawEntities)
	relations := b.OptimizeRelations(rawRelations, entities)
	if err := b.Persist(ctx, entities, relations, documentID); err != nil {
		return nil, nil, err
	}
	return entities, relations, nil
}
