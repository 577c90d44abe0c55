package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/docfuse/docfuse/pkg/types"
)

// PDFExtractor implements Extractor for PDF documents. Page text is pulled
// in order, chunked, and emitted as text units; a page that fails to decode
// is skipped rather than failing the document.
type PDFExtractor struct {
	chunker *Chunker
}

// NewPDFExtractor creates a PDF extractor with the given chunk budget.
func NewPDFExtractor(maxTokensPerChunk int) *PDFExtractor {
	return &PDFExtractor{chunker: NewChunker(maxTokensPerChunk)}
}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, documentID string, data []byte) ([]*types.ContentUnit, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}

	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, fmt.Errorf("pdf %s contains no extractable text", documentID)
	}

	chunks := e.chunker.Split(content)
	units := make([]*types.ContentUnit, 0, len(chunks))
	for i, chunk := range chunks {
		units = append(units, &types.ContentUnit{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Position:    i,
			Modality:    types.ModalityText,
			RawContent:  chunk,
			DerivedText: chunk,
		})
	}
	return units, nil
}
