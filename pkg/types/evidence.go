package types

// EvidenceSource names the retrieval stage that produced a candidate.
type EvidenceSource string

const (
	SourceLexical EvidenceSource = "lexical"
	SourceVector  EvidenceSource = "vector"
	SourceGraph   EvidenceSource = "graph"
)

// EvidenceKind separates rank-fused store hits from graph traversal paths,
// whose scores are not comparable to fusion scores.
type EvidenceKind string

const (
	EvidenceFused     EvidenceKind = "fused"
	EvidenceGraphPath EvidenceKind = "graph_path"
)

// Evidence is one ranked item in a query's final evidence list.
type Evidence struct {
	Kind       EvidenceKind     `json:"kind"`
	UnitID     string           `json:"unit_id,omitempty"`
	DocumentID string           `json:"document_id,omitempty"`
	Modality   Modality         `json:"modality,omitempty"`
	Content    string           `json:"content"`
	Score      float64          `json:"score"`
	Sources    []EvidenceSource `json:"sources,omitempty"`
	Path       *GraphPath       `json:"path,omitempty"`
}

// GraphPath is a traversal result rooted at an entity matched from the query.
type GraphPath struct {
	SeedEntity string     `json:"seed_entity"`
	Hops       int        `json:"hops"`
	Nodes      []Entity   `json:"nodes"`
	Relations  []Relation `json:"relations"`
	Relevance  float64    `json:"relevance"`
}

// QueryResults is the outcome of one hybrid retrieval pass. Degraded lists
// the stages that failed or were unavailable; the evidence is best-effort
// from the stages that succeeded.
type QueryResults struct {
	Query    string           `json:"query"`
	Evidence []Evidence       `json:"evidence"`
	Degraded []EvidenceSource `json:"degraded,omitempty"`
	Total    int              `json:"total"`
}
