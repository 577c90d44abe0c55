package types

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrEmptyID         = errors.New("id cannot be empty")
	ErrEmptyDocumentID = errors.New("document_id cannot be empty")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrEmptyName       = errors.New("name cannot be empty")
	ErrBadConfidence   = errors.New("confidence must be in [0,1]")
)

// Modality classifies a content unit by the kind of source material it was
// extracted from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityTable Modality = "table"
	ModalityImage Modality = "image"
	ModalityChart Modality = "chart"
)

// ContentUnit is the smallest indexable piece of a document: one text chunk,
// table, image, or chart. Units are immutable once produced by extraction.
type ContentUnit struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Position   int                    `json:"position"`
	Modality   Modality               `json:"modality"`
	RawContent string                 `json:"raw_content"`
	// DerivedText is the searchable text derived from RawContent: the chunk
	// itself for text, a flattened summary for tables, OCR output for images.
	DerivedText string                 `json:"derived_text,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the required ContentUnit fields.
func (u *ContentUnit) Validate() error {
	if u.ID == "" {
		return ErrEmptyID
	}
	if u.DocumentID == "" {
		return ErrEmptyDocumentID
	}
	if u.RawContent == "" && u.DerivedText == "" {
		return ErrEmptyContent
	}
	return nil
}

// SearchText returns the text a store should index for this unit.
func (u *ContentUnit) SearchText() string {
	if u.DerivedText != "" {
		return u.DerivedText
	}
	return u.RawContent
}

// EmbeddingRecord is the write-once vector produced for a content unit by a
// scheduler flush. The vector dimension is fixed by configuration and shared
// by all stores.
type EmbeddingRecord struct {
	UnitID      string    `json:"unit_id"`
	DocumentID  string    `json:"document_id"`
	Vector      []float32 `json:"vector"`
	DerivedText string    `json:"derived_text"`
	Modality    Modality  `json:"modality"`
}

// Entity is a deduplicated entity extracted from one or more content units.
// Entities are mutated only by the documented dedup merge: SourceUnitIDs and
// MergeCount grow, the canonical fields stay those of the highest-confidence
// mention.
type Entity struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Confidence    float64   `json:"confidence"`
	SourceUnitIDs []string  `json:"source_unit_ids"`
	MergeCount    int       `json:"merge_count"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Validate checks the required Entity fields.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// Relation is a subject-predicate-object triple between two entities. A
// relation is valid only while both endpoint names resolve to a persisted
// entity; orphans are dropped before persistence.
type Relation struct {
	ID            string   `json:"id"`
	SubjectName   string   `json:"subject_name"`
	Predicate     string   `json:"predicate"`
	ObjectName    string   `json:"object_name"`
	Confidence    float64  `json:"confidence"`
	SourceUnitIDs []string `json:"source_unit_ids"`
	DocumentID    string   `json:"document_id"`
}

// Validate checks the required Relation fields.
func (r *Relation) Validate() error {
	if r.SubjectName == "" || r.ObjectName == "" || r.Predicate == "" {
		return ErrEmptyName
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// Key returns the triple identity used for exact-duplicate elimination.
func (r *Relation) Key() string {
	return r.SubjectName + "\x00" + r.Predicate + "\x00" + r.ObjectName
}

// HardwareProfile is a coarse description of the host used to derive the
// governor's initial tier.
type HardwareProfile struct {
	LogicalCores int     `json:"logical_cores"`
	MemoryGB     float64 `json:"memory_gb"`
	HasGPU       bool    `json:"has_gpu"`
}

// Score reduces the profile to a 0-100 performance score. Cores and memory
// contribute 40 points each, GPU presence 20.
func (p HardwareProfile) Score() int {
	score := 0
	cores := p.LogicalCores
	if cores > 16 {
		cores = 16
	}
	score += cores * 40 / 16

	mem := p.MemoryGB
	if mem > 64 {
		mem = 64
	}
	score += int(mem * 40 / 64)

	if p.HasGPU {
		score += 20
	}
	return score
}
