package rerank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse/pkg/types"
)

type classifierLLM struct {
	relevant map[string]bool
	err      error
}

func (c *classifierLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	for fragment, ok := range c.relevant {
		if strings.Contains(prompt, fragment) {
			if ok {
				return "True", nil
			}
			return "False", nil
		}
	}
	return "maybe", nil
}

func (c *classifierLLM) CompleteStream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 1)
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	out <- text
	close(out)
	return out, nil
}

func (c *classifierLLM) Close() error { return nil }

func evidenceList(contents ...string) []types.Evidence {
	out := make([]types.Evidence, len(contents))
	for i, content := range contents {
		out[i] = types.Evidence{UnitID: content, Content: content, Kind: types.EvidenceFused}
	}
	return out
}

func TestRerankPromotesRelevantEvidence(t *testing.T) {
	llm := &classifierLLM{relevant: map[string]bool{
		"about cats": false,
		"about dogs": true,
	}}
	r := NewLLMReranker(llm, Config{MaxConcurrency: 2}, nil)

	out, err := r.Rerank(context.Background(), "dogs", evidenceList("about cats", "about dogs"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "about dogs", out[0].Content)
	assert.Equal(t, "about cats", out[1].Content)
}

func TestRerankPreservesOrderOnTies(t *testing.T) {
	llm := &classifierLLM{relevant: map[string]bool{
		"first":  true,
		"second": true,
		"third":  true,
	}}
	r := NewLLMReranker(llm, Config{}, nil)

	out, err := r.Rerank(context.Background(), "anything", evidenceList("first", "second", "third"))
	require.NoError(t, err)
	assert.Equal(t, evidenceList("first", "second", "third"), out)
}

func TestRerankShortListsPassThrough(t *testing.T) {
	llm := &classifierLLM{err: errors.New("must not be called")}
	r := NewLLMReranker(llm, Config{}, nil)

	single := evidenceList("only")
	out, err := r.Rerank(context.Background(), "q", single)
	require.NoError(t, err)
	assert.Equal(t, single, out)
}

func TestRerankPropagatesScoringErrors(t *testing.T) {
	llm := &classifierLLM{err: errors.New("backend down")}
	r := NewLLMReranker(llm, Config{}, nil)

	_, err := r.Rerank(context.Background(), "q", evidenceList("a", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestAmbiguousReplyScoresNeutral(t *testing.T) {
	llm := &classifierLLM{relevant: map[string]bool{"relevant passage": true}}
	r := NewLLMReranker(llm, Config{}, nil)

	// "unknown passage" gets the neutral 0.5 and sorts below the 0.8.
	out, err := r.Rerank(context.Background(), "q", evidenceList("unknown passage", "relevant passage"))
	require.NoError(t, err)
	assert.Equal(t, "relevant passage", out[0].Content)
}
