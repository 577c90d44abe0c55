package kg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/docfuse/docfuse/pkg/ocr"
	"github.com/docfuse/docfuse/pkg/types"
)

// ImageStrategy derives text from an image via OCR and routes it through the
// text strategy, and turns detected visual tags into IMAGE_OBJECT entities.
// When the ingestion pipeline has already populated DerivedText the OCR call
// is skipped.
type ImageStrategy struct {
	ocr    ocr.Client
	text   *TextStrategy
	logger *slog.Logger
}

// NewImageStrategy creates the image extraction strategy. The OCR client may
// be nil when DerivedText is always populated upstream.
func NewImageStrategy(ocrClient ocr.Client, text *TextStrategy, logger *slog.Logger) *ImageStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageStrategy{ocr: ocrClient, text: text, logger: logger}
}

// Extract implements Strategy.
func (s *ImageStrategy) Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	var entities []*types.Entity
	var relations []*types.Relation

	text := unit.DerivedText
	if text == "" && s.ocr != nil && unit.RawContent != "" {
		result, err := s.ocr.Recognize(ctx, []byte(unit.RawContent))
		if err != nil {
			return nil, nil, fmt.Errorf("ocr: %w", err)
		}
		text = result.Text
	}

	if strings.TrimSpace(text) != "" && s.text != nil {
		derived := &types.ContentUnit{
			ID:          unit.ID,
			DocumentID:  unit.DocumentID,
			Position:    unit.Position,
			Modality:    types.ModalityText,
			RawContent:  text,
			DerivedText: text,
		}
		textEntities, textRelations, err := s.text.Extract(ctx, derived)
		if err != nil {
			// OCR text extraction failing does not lose the visual tags.
			s.logger.Warn("text extraction over ocr output failed",
				"unit_id", unit.ID, "error", err)
		} else {
			entities = append(entities, textEntities...)
			relations = append(relations, textRelations...)
		}
	}

	for _, tag := range metadataStrings(unit.Metadata, "tags") {
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          tag,
			Type:          TypeImageObject,
			Confidence:    confImageObject,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
	}

	return entities, relations, nil
}

// metadataStrings reads a metadata value as a string list, accepting a
// []string, a []any of strings, or a comma separated string.
func metadataStrings(metadata map[string]interface{}, key string) []string {
	if metadata == nil {
		return nil
	}
	var out []string
	switch v := metadata[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
