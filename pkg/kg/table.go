package kg

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/docfuse/docfuse/pkg/types"
)

// TableStrategy extracts structure from tabular units without a model call:
// header cells become TABLE_FIELD entities, non-numeric body cells become
// TABLE_VALUE entities, and adjacent header pairs are linked by a lower
// confidence RELATED_FIELD relation. The adjacency link is structural, not
// semantic; downstream consumers weight it accordingly.
type TableStrategy struct{}

// NewTableStrategy creates the table extraction strategy.
func NewTableStrategy() *TableStrategy { return &TableStrategy{} }

// Extract implements Strategy.
func (s *TableStrategy) Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	rows := parseTableRows(unit.RawContent)
	if len(rows) == 0 {
		return nil, nil, nil
	}

	headers := rows[0]
	var entities []*types.Entity
	var relations []*types.Relation

	for _, h := range headers {
		if h == "" {
			continue
		}
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          h,
			Type:          TypeTableField,
			Confidence:    confTableField,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
	}

	for _, row := range rows[1:] {
		for _, cell := range row {
			if cell == "" || isNumeric(cell) {
				continue
			}
			entities = append(entities, &types.Entity{
				ID:            uuid.NewString(),
				Name:          cell,
				Type:          TypeTableValue,
				Confidence:    confTableValue,
				SourceUnitIDs: []string{unit.ID},
				MergeCount:    1,
			})
		}
	}

	for i := 0; i+1 < len(headers); i++ {
		if headers[i] == "" || headers[i+1] == "" {
			continue
		}
		relations = append(relations, &types.Relation{
			ID:            uuid.NewString(),
			SubjectName:   headers[i],
			Predicate:     PredicateRelatedField,
			ObjectName:    headers[i+1],
			Confidence:    confRelatedField,
			SourceUnitIDs: []string{unit.ID},
			DocumentID:    unit.DocumentID,
		})
	}

	return entities, relations, nil
}

// parseTableRows splits raw table text into trimmed cells. Rows are newline
// separated; cells split on pipe, falling back to tabs. Markdown separator
// rows (|---|---|) are dropped.
func parseTableRows(raw string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sep := "|"
		if !strings.Contains(line, "|") {
			sep = "\t"
		}
		parts := strings.Split(strings.Trim(line, "|"), sep)

		cells := make([]string, 0, len(parts))
		allDashes := true
		for _, p := range parts {
			c := strings.TrimSpace(p)
			cells = append(cells, c)
			if c != "" && strings.Trim(c, "-: ") != "" {
				allDashes = false
			}
		}
		if allDashes {
			continue
		}
		rows = append(rows, cells)
	}
	return rows
}

func isNumeric(s string) bool {
	cleaned := strings.NewReplacer(",", "", "%", "", "$", "", "€", "", " ", "").Replace(s)
	if cleaned == "" {
		return false
	}
	_, err := strconv.ParseFloat(cleaned, 64)
	return err == nil
}
