// Package extract turns source documents into ordered content units: PDF
// text is pulled per page and chunked with a token budget so downstream
// embedding and extraction calls stay within model limits.
package extract

import (
	"context"

	"github.com/docfuse/docfuse/pkg/types"
)

// Extractor produces the ordered content unit sequence for one document.
type Extractor interface {
	Extract(ctx context.Context, documentID string, data []byte) ([]*types.ContentUnit, error)
}
