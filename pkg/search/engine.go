package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docfuse/docfuse/pkg/embedder"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

// Config holds the retrieval tuning knobs.
type Config struct {
	// RankConstant is the RRF smoothing constant k.
	RankConstant int
	// ScoreThreshold drops fused candidates scoring below it.
	ScoreThreshold float64
	// StageCandidates caps how many hits each stage may contribute.
	StageCandidates int
	// MaxHops bounds graph traversal from each matched query entity.
	MaxHops int
	// Limit caps the final evidence list.
	Limit int
	// StageTimeout bounds each stage independently; a stage that runs past
	// it degrades instead of blocking the query.
	StageTimeout time.Duration
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		RankConstant:    DefaultRankConstant,
		ScoreThreshold:  0,
		StageCandidates: 20,
		MaxHops:         2,
		Limit:           10,
		StageTimeout:    10 * time.Second,
	}
}

// Reranker optionally reorders the post-fusion evidence. Implementations
// must not add or remove items.
type Reranker interface {
	Rerank(ctx context.Context, query string, evidence []types.Evidence) ([]types.Evidence, error)
}

// Engine runs hybrid retrieval over the three stores. Stages degrade
// independently: an unavailable backend contributes an empty list and an
// annotation, never an error for the whole query.
type Engine struct {
	lexical   store.LexicalStore
	vector    store.VectorStore
	graph     store.GraphStore
	embed     embedder.Client
	extractor *QueryEntityExtractor
	reranker  Reranker
	config    Config
	logger    *slog.Logger
}

// NewEngine wires the retrieval engine. Any store may be nil; its stage is
// then permanently degraded. The reranker is optional.
func NewEngine(
	lexical store.LexicalStore,
	vector store.VectorStore,
	graph store.GraphStore,
	embed embedder.Client,
	extractor *QueryEntityExtractor,
	reranker Reranker,
	config Config,
	logger *slog.Logger,
) *Engine {
	if config.RankConstant <= 0 {
		config.RankConstant = DefaultRankConstant
	}
	if config.StageCandidates <= 0 {
		config.StageCandidates = 20
	}
	if config.Limit <= 0 {
		config.Limit = 10
	}
	if config.MaxHops <= 0 {
		config.MaxHops = 2
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		lexical:   lexical,
		vector:    vector,
		graph:     graph,
		embed:     embed,
		extractor: extractor,
		reranker:  reranker,
		config:    config,
		logger:    logger,
	}
}

type stageResult struct {
	source types.EvidenceSource
	hits   []store.Hit
	paths  []*types.GraphPath
	err    error
}

// Query runs the three stages concurrently and fuses their results.
func (e *Engine) Query(ctx context.Context, query string) (*types.QueryResults, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	results := make([]stageResult, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		results[0] = e.lexicalStage(ctx, query)
	}()
	go func() {
		defer wg.Done()
		results[1] = e.vectorStage(ctx, query)
	}()
	go func() {
		defer wg.Done()
		results[2] = e.graphStage(ctx, query)
	}()
	wg.Wait()

	var degraded []types.EvidenceSource
	var lists []rankedList
	var paths []*types.GraphPath

	for _, r := range results {
		if r.err != nil {
			e.logger.Warn("retrieval stage degraded",
				"stage", r.source, "query", query, "error", r.err)
			degraded = append(degraded, r.source)
			continue
		}
		switch r.source {
		case types.SourceGraph:
			paths = r.paths
		default:
			lists = append(lists, rankedList{source: r.source, hits: r.hits})
		}
	}

	evidence := e.fuseStages(lists)
	if e.reranker != nil && len(evidence) > 1 {
		reranked, err := e.reranker.Rerank(ctx, query, evidence)
		if err != nil {
			e.logger.Warn("reranker failed, keeping fused order", "error", err)
		} else if len(reranked) == len(evidence) {
			evidence = reranked
		}
	}

	evidence = append(evidence, pathEvidence(paths)...)
	if len(evidence) > e.config.Limit {
		evidence = evidence[:e.config.Limit]
	}

	return &types.QueryResults{
		Query:    query,
		Evidence: evidence,
		Degraded: degraded,
		Total:    len(evidence),
	}, nil
}

func (e *Engine) lexicalStage(ctx context.Context, query string) stageResult {
	r := stageResult{source: types.SourceLexical}
	if e.lexical == nil {
		r.err = store.ErrUnavailable
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.StageTimeout)
	defer cancel()

	r.hits, r.err = e.lexical.Search(ctx, query, e.config.StageCandidates)
	return r
}

func (e *Engine) vectorStage(ctx context.Context, query string) stageResult {
	r := stageResult{source: types.SourceVector}
	if e.vector == nil || e.embed == nil {
		r.err = store.ErrUnavailable
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.StageTimeout)
	defer cancel()

	vec, err := e.embed.EmbedSingle(ctx, query)
	if err != nil {
		r.err = fmt.Errorf("embed query: %w", err)
		return r
	}
	r.hits, r.err = e.vector.Search(ctx, vec, e.config.StageCandidates)
	return r
}

// graphStage extracts query entities and traverses from each match. No
// query entities means no graph evidence, which is not a degradation.
func (e *Engine) graphStage(ctx context.Context, query string) stageResult {
	r := stageResult{source: types.SourceGraph}
	if e.graph == nil || e.extractor == nil {
		r.err = store.ErrUnavailable
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.StageTimeout)
	defer cancel()

	entities, err := e.extractor.Extract(ctx, query)
	if err != nil {
		r.err = fmt.Errorf("query entities: %w", err)
		return r
	}
	if len(entities) == 0 {
		return r
	}

	seen := make(map[string]bool)
	for _, entity := range entities {
		paths, err := e.graph.Neighborhood(ctx, entity.Name, e.config.MaxHops, e.config.StageCandidates)
		if err != nil {
			r.err = fmt.Errorf("neighborhood %q: %w", entity.Name, err)
			return r
		}
		for _, p := range paths {
			key := pathKey(p)
			if seen[key] {
				continue
			}
			seen[key] = true
			r.paths = append(r.paths, p)
		}
	}

	sort.SliceStable(r.paths, func(i, j int) bool {
		return r.paths[i].Relevance > r.paths[j].Relevance
	})
	if len(r.paths) > e.config.StageCandidates {
		r.paths = r.paths[:e.config.StageCandidates]
	}
	return r
}

// fuseStages fuses the store-hit lists and applies the score threshold.
// When only one source fired, its native scores are kept so the threshold
// stays meaningful against that backend's scale.
func (e *Engine) fuseStages(lists []rankedList) []types.Evidence {
	active := 0
	for _, l := range lists {
		if len(l.hits) > 0 {
			active++
		}
	}

	candidates := fuse(lists, e.config.RankConstant)
	out := make([]types.Evidence, 0, len(candidates))
	for _, c := range candidates {
		score := c.score
		if active == 1 {
			score = c.hit.Score
		}
		if score < e.config.ScoreThreshold {
			continue
		}
		out = append(out, types.Evidence{
			Kind:       types.EvidenceFused,
			UnitID:     c.hit.UnitID,
			DocumentID: c.hit.DocumentID,
			Modality:   c.hit.Modality,
			Content:    c.hit.Content,
			Score:      score,
			Sources:    c.sources,
		})
	}
	return out
}

func pathEvidence(paths []*types.GraphPath) []types.Evidence {
	out := make([]types.Evidence, 0, len(paths))
	for _, p := range paths {
		out = append(out, types.Evidence{
			Kind:    types.EvidenceGraphPath,
			Content: describePath(p),
			Score:   p.Relevance,
			Sources: []types.EvidenceSource{types.SourceGraph},
			Path:    p,
		})
	}
	return out
}

// describePath flattens a path into readable triple text for consumers that
// only handle strings.
func describePath(p *types.GraphPath) string {
	if len(p.Relations) == 0 {
		return p.SeedEntity
	}
	var b []byte
	for i, r := range p.Relations {
		if i > 0 {
			b = append(b, "; "...)
		}
		b = append(b, r.SubjectName...)
		b = append(b, ' ')
		b = append(b, r.Predicate...)
		b = append(b, ' ')
		b = append(b, r.ObjectName...)
	}
	return string(b)
}

func pathKey(p *types.GraphPath) string {
	key := p.SeedEntity
	for _, r := range p.Relations {
		key += "|" + r.SubjectName + ">" + r.Predicate + ">" + r.ObjectName
	}
	return key
}
