// Package dto holds the request and response shapes of the HTTP layer.
package dto

import (
	"errors"
	"strings"

	"github.com/docfuse/docfuse/pkg/types"
)

// MaxQueryLength bounds query text accepted over HTTP.
const MaxQueryLength = 4096

// IngestRequest submits one base64-encoded document.
type IngestRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	// Content is the base64-encoded document body.
	Content string `json:"content" binding:"required"`
}

// Validate performs validation on IngestRequest.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return errors.New("document_id cannot be empty")
	}
	if r.Content == "" {
		return errors.New("content cannot be empty")
	}
	return nil
}

// IngestResponse acknowledges an accepted ingestion.
type IngestResponse struct {
	TaskID     string `json:"task_id"`
	DocumentID string `json:"document_id"`
}

// QueryRequest runs hybrid retrieval, optionally with answer synthesis.
type QueryRequest struct {
	Query      string `json:"query" binding:"required"`
	Synthesize bool   `json:"synthesize,omitempty"`
}

// Validate performs validation on QueryRequest.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query cannot be empty")
	}
	if len(r.Query) > MaxQueryLength {
		return errors.New("query too long")
	}
	return nil
}

// QueryResponse returns ranked evidence and the optional synthesized answer.
type QueryResponse struct {
	Query    string                 `json:"query"`
	Answer   string                 `json:"answer,omitempty"`
	Evidence []types.Evidence       `json:"evidence"`
	Degraded []types.EvidenceSource `json:"degraded,omitempty"`
	Total    int                    `json:"total"`
}

// StatusResponse reports a document's ingestion progress.
type StatusResponse struct {
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	Units      int    `json:"units,omitempty"`
	Entities   int    `json:"entities,omitempty"`
	Relations  int    `json:"relations,omitempty"`
}

// Result is a generic API error envelope.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
