// Package api exposes the REST control surface. Handlers map 1:1 onto the
// engine's lifecycle operations and the store's read views.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/storage"

	"github.com/gin-gonic/gin"
)

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	store      *storage.Store
	engine     *engine.Engine
	httpServer *http.Server
	port       int
}

// NewServer creates the API server
func NewServer(st *storage.Store, eng *engine.Engine, port int) *Server {
	// Release mode keeps gin's own logging out of the way
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		store:  st,
		engine: eng,
		port:   port,
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes registers all routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)

		grid := api.Group("/grid")
		{
			grid.POST("/strategies", s.handleCreateStrategy)
			grid.GET("/strategies", s.handleListStrategies)
			grid.GET("/strategies/:id", s.handleGetStrategyState)
			grid.POST("/strategies/:id/start", s.handleStartStrategy)
			grid.POST("/strategies/:id/pause", s.handlePauseStrategy)
			grid.POST("/strategies/:id/resume", s.handleResumeStrategy)
			grid.POST("/strategies/:id/stop", s.handleStopStrategy)
			grid.GET("/strategies/:id/stats", s.handleGetStrategyStats)
			grid.GET("/strategies/:id/trades", s.handleGetStrategyTrades)
		}
	}
}

// Start runs the HTTP server in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		logger.S().Infof("API server listening on :%d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.S().Errorf("API server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}
