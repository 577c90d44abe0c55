// Package search implements hybrid retrieval: lexical, vector, and graph
// stages run concurrently, store hits are fused with reciprocal rank fusion,
// and graph paths join the final list as a separate evidence category.
package search

import (
	"sort"

	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

// DefaultRankConstant is the RRF smoothing constant k.
const DefaultRankConstant = 60

// rankedList is one source's candidates in rank order, with native scores
// kept for tie-breaking.
type rankedList struct {
	source types.EvidenceSource
	hits   []store.Hit
}

// fused is a candidate after rank fusion.
type fused struct {
	hit     store.Hit
	score   float64
	sources []types.EvidenceSource
}

// fuse combines per-source ranked lists with reciprocal rank fusion: each
// source contributes 1/(k+rank) with rank starting at 1; absence from a
// source contributes nothing. Within a source, ties on native score keep
// their given order (sources pre-sort by score descending, then unit id).
// The result is deterministic for identical inputs.
func fuse(lists []rankedList, k int) []fused {
	if k <= 0 {
		k = DefaultRankConstant
	}

	scores := make(map[string]*fused)
	var order []string

	for _, list := range lists {
		for i, hit := range list.hits {
			f, ok := scores[hit.UnitID]
			if !ok {
				// First-seen wins: the first source to return a unit
				// supplies its content.
				f = &fused{hit: hit}
				scores[hit.UnitID] = f
				order = append(order, hit.UnitID)
			}
			f.score += 1.0 / float64(k+i+1)
			f.sources = append(f.sources, list.source)
		}
	}

	out := make([]fused, 0, len(order))
	for _, id := range order {
		out = append(out, *scores[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		// Equal fused score: multimedia content outranks plain text, then
		// native score, then unit id for determinism.
		mi, mj := multimediaRank(out[i].hit.Modality), multimediaRank(out[j].hit.Modality)
		if mi != mj {
			return mi < mj
		}
		if out[i].hit.Score != out[j].hit.Score {
			return out[i].hit.Score > out[j].hit.Score
		}
		return out[i].hit.UnitID < out[j].hit.UnitID
	})
	return out
}

// multimediaRank orders modalities for the equal-score tier: images and
// charts first, tables next, plain text last.
func multimediaRank(m types.Modality) int {
	switch m {
	case types.ModalityImage, types.ModalityChart:
		return 0
	case types.ModalityTable:
		return 1
	default:
		return 2
	}
}
