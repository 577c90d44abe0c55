package docfuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docfuse/docfuse/pkg/telemetry"
	"github.com/docfuse/docfuse/pkg/types"
)

// Query runs hybrid retrieval and returns ranked evidence. Partial backend
// failure yields best-effort results with the degraded stages annotated.
func (c *Client) Query(ctx context.Context, query string) (*types.QueryResults, error) {
	started := time.Now()
	results, err := c.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	if c.telemetry != nil {
		c.telemetry.RecordQuery(telemetry.QueryRecord{
			Query:          query,
			EvidenceCount:  len(results.Evidence),
			DegradedStages: telemetry.JoinStages(results.Degraded),
			DurationMS:     time.Since(started).Milliseconds(),
		})
	}
	return results, nil
}

const answerPrompt = `Answer the question using only the evidence below. If the evidence is insufficient, say so. Cite nothing outside the evidence.

Question: %s

Evidence:
%s

Answer:`

// Answer retrieves evidence for the query and synthesizes an answer with
// the language model. The evidence used is returned alongside the answer.
func (c *Client) Answer(ctx context.Context, query string) (string, *types.QueryResults, error) {
	results, err := c.Query(ctx, query)
	if err != nil {
		return "", nil, err
	}
	if len(results.Evidence) == 0 {
		return "", results, nil
	}

	answer, err := c.llm.Complete(ctx, fmt.Sprintf(answerPrompt, query, renderEvidence(results.Evidence)))
	if err != nil {
		return "", results, fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), results, nil
}

// AnswerStream is Answer with a streamed response. The channel closes when
// the model finishes. An empty evidence set returns a nil channel.
func (c *Client) AnswerStream(ctx context.Context, query string) (<-chan string, *types.QueryResults, error) {
	results, err := c.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(results.Evidence) == 0 {
		return nil, results, nil
	}

	stream, err := c.llm.CompleteStream(ctx, fmt.Sprintf(answerPrompt, query, renderEvidence(results.Evidence)))
	if err != nil {
		return nil, results, fmt.Errorf("synthesize answer: %w", err)
	}
	return stream, results, nil
}

func renderEvidence(evidence []types.Evidence) string {
	var b strings.Builder
	for i, ev := range evidence {
		fmt.Fprintf(&b, "[%d]", i+1)
		if ev.Kind == types.EvidenceGraphPath {
			b.WriteString(" (graph) ")
		} else if ev.Modality != "" && ev.Modality != types.ModalityText {
			fmt.Fprintf(&b, " (%s) ", ev.Modality)
		} else {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(ev.Content))
		b.WriteString("\n")
	}
	return b.String()
}
