package kg

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/docfuse/docfuse/pkg/types"
)

// ChartStrategy extracts structure from chart units: axis labels become
// CHART_AXIS entities, legend entries become CHART_SERIES entities, and each
// series is linked to the chart via DISPLAYED_IN. Structure comes from unit
// metadata when the upstream extractor provides it, otherwise from prefixed
// lines in the raw content ("axis:", "series:", "type:").
type ChartStrategy struct{}

// NewChartStrategy creates the chart extraction strategy.
func NewChartStrategy() *ChartStrategy { return &ChartStrategy{} }

// Extract implements Strategy.
func (s *ChartStrategy) Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error) {
	axes := metadataStrings(unit.Metadata, "axis_labels")
	series := metadataStrings(unit.Metadata, "series")
	chartType := metadataString(unit.Metadata, "chart_type")

	if len(axes) == 0 && len(series) == 0 {
		axes, series, chartType = parseChartLines(unit.RawContent, chartType)
	}
	if chartType == "" {
		chartType = "chart"
	}

	var entities []*types.Entity
	var relations []*types.Relation

	for _, axis := range axes {
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          axis,
			Type:          TypeChartAxis,
			Confidence:    confChartAxis,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
	}

	if len(series) > 0 {
		// The chart itself anchors the DISPLAYED_IN relations.
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          chartType,
			Type:          TypeChart,
			Confidence:    confChartAxis,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
	}

	for _, entry := range series {
		entities = append(entities, &types.Entity{
			ID:            uuid.NewString(),
			Name:          entry,
			Type:          TypeChartSeries,
			Confidence:    confChartSeries,
			SourceUnitIDs: []string{unit.ID},
			MergeCount:    1,
		})
		relations = append(relations, &types.Relation{
			ID:            uuid.NewString(),
			SubjectName:   entry,
			Predicate:     PredicateDisplayedIn,
			ObjectName:    chartType,
			Confidence:    confDisplayedIn,
			SourceUnitIDs: []string{unit.ID},
			DocumentID:    unit.DocumentID,
		})
	}

	return entities, relations, nil
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if s, ok := metadata[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseChartLines(raw, chartType string) (axes, series []string, typ string) {
	typ = chartType
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToLower(line), "axis:"):
			if v := strings.TrimSpace(line[len("axis:"):]); v != "" {
				axes = append(axes, v)
			}
		case strings.HasPrefix(strings.ToLower(line), "series:"):
			if v := strings.TrimSpace(line[len("series:"):]); v != "" {
				series = append(series, v)
			}
		case strings.HasPrefix(strings.ToLower(line), "type:"):
			if v := strings.TrimSpace(line[len("type:"):]); v != "" {
				typ = v
			}
		}
	}
	return axes, series, typ
}
