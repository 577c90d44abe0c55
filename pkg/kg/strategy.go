// Package kg builds the knowledge graph: per-modality extraction strategies
// produce entity/relation candidates, which are deduplicated, checked for
// endpoint integrity, and persisted to the graph store.
package kg

import (
	"context"

	"github.com/docfuse/docfuse/pkg/types"
)

// Entity and relation types produced by the structural strategies.
const (
	TypeTableField  = "TABLE_FIELD"
	TypeTableValue  = "TABLE_VALUE"
	TypeImageObject = "IMAGE_OBJECT"
	TypeChartAxis   = "CHART_AXIS"
	TypeChartSeries = "CHART_SERIES"
	TypeChart       = "CHART"

	PredicateRelatedField = "RELATED_FIELD"
	PredicateDisplayedIn  = "DISPLAYED_IN"
)

// Confidence assigned by the structural strategies. Structural extraction is
// more certain for declared structure (headers, axes) than for inferred
// associations (adjacent fields).
const (
	confTableField   = 0.9
	confTableValue   = 0.7
	confRelatedField = 0.6
	confImageObject  = 0.8
	confChartAxis    = 0.9
	confChartSeries  = 0.8
	confDisplayedIn  = 0.8
)

// Strategy extracts entity and relation candidates from one content unit.
// Each modality gets its own strategy, selected once at the builder's entry
// point.
type Strategy interface {
	Extract(ctx context.Context, unit *types.ContentUnit) ([]*types.Entity, []*types.Relation, error)
}
