// Package rerank reorders fused evidence with a cross-encoder style pass:
// each evidence item is scored against the query independently and the list
// is re-sorted by score. Implementations never add or remove items, which
// keeps them safe to plug into the retrieval engine.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/types"
)

// Config tunes the LLM reranker.
type Config struct {
	// MaxConcurrency caps in-flight scoring calls.
	MaxConcurrency int
}

// LLMReranker scores each evidence item with a boolean relevance classifier
// prompt and reorders by the resulting scores. Scoring calls run
// concurrently under a semaphore.
type LLMReranker struct {
	client    nlp.Client
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewLLMReranker creates a reranker over the given language model client.
func NewLLMReranker(client nlp.Client, config Config, logger *slog.Logger) *LLMReranker {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReranker{
		client:    client,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		logger:    logger,
	}
}

const relevancePrompt = `Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise. Respond with one word only.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`

// Rerank implements search.Reranker. A scoring failure on any item leaves
// the original order untouched rather than returning a partial reorder.
func (r *LLMReranker) Rerank(ctx context.Context, query string, evidence []types.Evidence) ([]types.Evidence, error) {
	if len(evidence) < 2 {
		return evidence, nil
	}

	scores := make([]float64, len(evidence))
	errs := make([]error, len(evidence))
	var wg sync.WaitGroup

	for i := range evidence {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case r.semaphore <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-r.semaphore }()

			scores[idx], errs[idx] = r.score(ctx, query, evidence[idx].Content)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("score evidence %d: %w", i, err)
		}
	}

	order := make([]int, len(evidence))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	out := make([]types.Evidence, len(evidence))
	for i, idx := range order {
		out[i] = evidence[idx]
	}
	return out, nil
}

// score runs the classifier prompt. Without logprob access the first word
// of the reply stands in for the class probability.
func (r *LLMReranker) score(ctx context.Context, query, passage string) (float64, error) {
	response, err := r.client.Complete(ctx, fmt.Sprintf(relevancePrompt, passage, query))
	if err != nil {
		return 0, err
	}

	word := strings.ToLower(strings.TrimSpace(response))
	if i := strings.IndexAny(word, " \t\n.,"); i > 0 {
		word = word[:i]
	}
	switch word {
	case "true", "yes":
		return 0.8, nil
	case "false", "no":
		return 0.2, nil
	default:
		r.logger.Debug("ambiguous relevance reply", "reply", word)
		return 0.5, nil
	}
}
