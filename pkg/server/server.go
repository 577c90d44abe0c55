// Package server exposes the docfuse client over HTTP with gin.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docfuse/docfuse"
	"github.com/docfuse/docfuse/pkg/config"
	"github.com/docfuse/docfuse/pkg/server/handlers"
)

// Server is the HTTP front of a docfuse client.
type Server struct {
	config *config.Config
	router *gin.Engine
	client *docfuse.Client
	server *http.Server
}

// New creates a server around an existing client.
func New(cfg *config.Config, client *docfuse.Client) *Server {
	return &Server{config: cfg, client: client}
}

// Setup builds the router and the underlying http.Server.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// Router returns the underlying router, used by handler tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	ingestHandler := handlers.NewIngestHandler(s.client)
	queryHandler := handlers.NewQueryHandler(s.client)

	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/live", healthHandler.LivenessCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/documents", ingestHandler.AddDocument)
		v1.GET("/documents/:id/status", ingestHandler.GetStatus)
		v1.DELETE("/documents/:id", ingestHandler.RemoveDocument)

		v1.POST("/query", queryHandler.Query)
		v1.POST("/query/stream", queryHandler.QueryStream)
	}
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
