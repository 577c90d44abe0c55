// Package handlers implements the HTTP endpoints of the docfuse server.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docfuse/docfuse"
)

// Build information, set at build time with ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	client *docfuse.Client
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(client *docfuse.Client) *HealthHandler {
	return &HealthHandler{client: client}
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "docfuse",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck handles GET /ready. The governor's limits double as a
// cheap readiness probe: a constructed client always has them.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	limits := h.client.Governor().Limits()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"tier":        h.client.Governor().Tier(),
		"concurrency": limits.Concurrency,
		"batch_size":  limits.BatchSize,
		"active":      h.client.Governor().Active(),
	})
}
