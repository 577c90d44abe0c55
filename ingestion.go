package docfuse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docfuse/docfuse/pkg/status"
	"github.com/docfuse/docfuse/pkg/telemetry"
	"github.com/docfuse/docfuse/pkg/types"
)

// IngestResult summarizes one completed document ingestion.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Units      int    `json:"units"`
	Entities   int    `json:"entities"`
	Relations  int    `json:"relations"`
}

// Ingest submits a document for ingestion through the governor. It returns
// the task id immediately; progress is observable via Status. ErrBusy means
// the governor is at its concurrency limit and nothing was queued.
func (c *Client) Ingest(ctx context.Context, documentID string, data []byte) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("document id required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty document")
	}

	task := &types.Task{
		ID:   uuid.NewString(),
		Kind: types.TaskKindIngest,
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StatePending
		st.Progress = 0
		st.Message = ""
	})

	accepted := c.gov.Submit(ctx, task, func(taskCtx context.Context) error {
		return c.runIngest(taskCtx, documentID, data)
	})
	if !accepted {
		return "", ErrBusy
	}
	return task.ID, nil
}

// IngestSync ingests a document and waits for completion. It shares the
// governor's admission control with Ingest.
func (c *Client) IngestSync(ctx context.Context, documentID string, data []byte) (*IngestResult, error) {
	taskID, err := c.Ingest(ctx, documentID, data)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		state, ok := c.gov.TaskState(taskID)
		if !ok || !state.Terminal() {
			continue
		}
		defer c.gov.Forget(taskID)

		if state != types.TaskCompleted {
			msg := "ingestion " + string(state)
			if st, err := c.Status(documentID); err == nil && st.Message != "" {
				msg = st.Message
			}
			return nil, errors.New(msg)
		}

		result := &IngestResult{DocumentID: documentID}
		if st, err := c.Status(documentID); err == nil {
			result.Units = st.Units
			result.Entities = st.Entities
			result.Relations = st.Relations
		}
		return result, nil
	}
}

// runIngest is the governed pipeline for one document: extract, index,
// embed, build graph. Stage failures fail the document; per-unit extraction
// failures inside the graph build are isolated by the builder.
func (c *Client) runIngest(ctx context.Context, documentID string, data []byte) error {
	started := time.Now()

	fail := func(stage string, err error) error {
		wrapped := fmt.Errorf("%s: %w", stage, err)
		c.setStatus(documentID, func(st *status.DocumentStatus) {
			st.State = status.StateFailed
			st.Message = wrapped.Error()
		})
		c.recordIngest(documentID, 0, 0, 0, started, wrapped)
		return wrapped
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StateExtracting
		st.Progress = 10
	})

	units, err := c.extractor.Extract(ctx, documentID, data)
	if err != nil {
		return fail("extract", err)
	}

	if err := c.deriveImageText(ctx, units); err != nil {
		// OCR trouble degrades image units to their raw form; the
		// document still ingests.
		c.logger.Warn("ocr derivation incomplete", "document_id", documentID, "error", err)
	}

	if err := c.lexical.Upsert(ctx, units); err != nil {
		return fail("lexical index", err)
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StateEmbedding
		st.Progress = 40
		st.Units = len(units)
	})

	records, err := c.embedUnits(ctx, units)
	if err != nil {
		return fail("embed", err)
	}
	if err := c.vector.Upsert(ctx, records); err != nil {
		return fail("vector index", err)
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StateBuilding
		st.Progress = 70
	})

	entities, relations, err := c.builder.Build(ctx, units, documentID)
	if err != nil {
		return fail("graph build", err)
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StateCompleted
		st.Progress = 100
		st.Entities = len(entities)
		st.Relations = len(relations)
	})
	c.recordIngest(documentID, len(units), len(entities), len(relations), started, nil)

	c.logger.Info("document ingested",
		"document_id", documentID,
		"units", len(units),
		"entities", len(entities),
		"relations", len(relations),
		"elapsed", time.Since(started))
	return nil
}

// deriveImageText fills DerivedText on image units through the OCR batch
// window. Units are enqueued concurrently so the window can fill.
func (c *Client) deriveImageText(ctx context.Context, units []*types.ContentUnit) error {
	if c.ocrWindow == nil {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, unit := range units {
		if unit.Modality != types.ModalityImage || unit.DerivedText != "" || unit.RawContent == "" {
			continue
		}
		wg.Add(1)
		go func(u *types.ContentUnit) {
			defer wg.Done()
			result, err := c.ocrWindow.Enqueue(ctx, []byte(u.RawContent))
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			u.DerivedText = result.Text
		}(unit)
	}
	wg.Wait()
	return firstErr
}

// embedUnits routes every unit's text through the embedding window and
// assembles the records in unit order.
func (c *Client) embedUnits(ctx context.Context, units []*types.ContentUnit) ([]*types.EmbeddingRecord, error) {
	records := make([]*types.EmbeddingRecord, len(units))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, unit := range units {
		wg.Add(1)
		go func(i int, u *types.ContentUnit) {
			defer wg.Done()
			vector, err := c.embedWindow.Enqueue(ctx, u.SearchText())
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			records[i] = &types.EmbeddingRecord{
				UnitID:      u.ID,
				DocumentID:  u.DocumentID,
				Vector:      vector,
				DerivedText: u.SearchText(),
				Modality:    u.Modality,
			}
		}(i, unit)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return records, nil
}

// RemoveDocument deletes a document from every store. Partial failures are
// joined so the caller sees everything that went wrong.
func (c *Client) RemoveDocument(ctx context.Context, documentID string) error {
	var errs []error
	if err := c.lexical.DeleteByDocument(ctx, documentID); err != nil {
		errs = append(errs, fmt.Errorf("lexical: %w", err))
	}
	if err := c.vector.DeleteByDocument(ctx, documentID); err != nil {
		errs = append(errs, fmt.Errorf("vector: %w", err))
	}
	if err := c.graph.DeleteByDocument(ctx, documentID); err != nil {
		errs = append(errs, fmt.Errorf("graph: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.setStatus(documentID, func(st *status.DocumentStatus) {
		st.State = status.StateRemoved
	})
	return nil
}

func (c *Client) setStatus(documentID string, fn func(*status.DocumentStatus)) {
	if c.status == nil {
		return
	}
	if err := c.status.Update(documentID, fn); err != nil {
		c.logger.Warn("status update failed", "document_id", documentID, "error", err)
	}
}

func (c *Client) recordIngest(documentID string, units, entities, relations int, started time.Time, err error) {
	if c.telemetry == nil {
		return
	}
	rec := telemetry.IngestRecord{
		DocumentID: documentID,
		Units:      units,
		Entities:   entities,
		Relations:  relations,
		DurationMS: time.Since(started).Milliseconds(),
		Tier:       string(c.gov.Tier()),
		Success:    err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	c.telemetry.RecordIngest(rec)
}
