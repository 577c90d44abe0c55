package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docfuse/docfuse"
	"github.com/docfuse/docfuse/pkg/server/dto"
	"github.com/docfuse/docfuse/pkg/status"
)

// IngestHandler handles document submission, status, and removal.
type IngestHandler struct {
	client *docfuse.Client
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(client *docfuse.Client) *IngestHandler {
	return &IngestHandler{client: client}
}

// AddDocument handles POST /api/v1/documents. A 429 means the governor is
// at capacity and the caller should retry with backoff.
func (h *IngestHandler) AddDocument(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: "content is not valid base64"})
		return
	}

	taskID, err := h.client.Ingest(c.Request.Context(), req.DocumentID, data)
	if err != nil {
		if errors.Is(err, docfuse.ErrBusy) {
			c.Header("Retry-After", "5")
			c.JSON(http.StatusTooManyRequests, dto.Result{Error: "ingestion at capacity, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.Result{
		Success: true,
		Data:    dto.IngestResponse{TaskID: taskID, DocumentID: req.DocumentID},
	})
}

// GetStatus handles GET /api/v1/documents/:id/status.
func (h *IngestHandler) GetStatus(c *gin.Context) {
	documentID := c.Param("id")

	st, err := h.client.Status(documentID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.Result{Error: "unknown document"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data: dto.StatusResponse{
			DocumentID: st.DocumentID,
			State:      string(st.State),
			Progress:   st.Progress,
			Message:    st.Message,
			Units:      st.Units,
			Entities:   st.Entities,
			Relations:  st.Relations,
		},
	})
}

// RemoveDocument handles DELETE /api/v1/documents/:id.
func (h *IngestHandler) RemoveDocument(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, dto.Result{Error: "document id required"})
		return
	}

	if err := h.client.RemoveDocument(c.Request.Context(), documentID); err != nil {
		c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true})
}
