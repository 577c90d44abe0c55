package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docfuse/docfuse"
	"github.com/docfuse/docfuse/pkg/server/dto"
)

// QueryHandler handles retrieval requests.
type QueryHandler struct {
	client *docfuse.Client
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(client *docfuse.Client) *QueryHandler {
	return &QueryHandler{client: client}
}

// Query handles POST /api/v1/query. With synthesize set, the evidence is
// passed through the language model for an answer.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}

	resp := dto.QueryResponse{Query: req.Query}

	if req.Synthesize {
		answer, results, err := h.client.Answer(c.Request.Context(), req.Query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
			return
		}
		resp.Answer = answer
		resp.Evidence = results.Evidence
		resp.Degraded = results.Degraded
		resp.Total = results.Total
	} else {
		results, err := h.client.Query(c.Request.Context(), req.Query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
			return
		}
		resp.Evidence = results.Evidence
		resp.Degraded = results.Degraded
		resp.Total = results.Total
	}

	c.JSON(http.StatusOK, dto.Result{Success: true, Data: resp})
}

// QueryStream handles POST /api/v1/query/stream as server-sent events: the
// answer streams as "data:" chunks and the stream ends with a "done" event.
func (h *QueryHandler) QueryStream(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.Result{Error: err.Error()})
		return
	}

	stream, results, err := h.client.AnswerStream(c.Request.Context(), req.Query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.Result{Error: err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	if stream == nil {
		c.SSEvent("done", gin.H{"total": results.Total})
		return
	}

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok {
			c.SSEvent("done", gin.H{"total": results.Total})
			return false
		}
		c.SSEvent("message", chunk)
		return true
	})
}
