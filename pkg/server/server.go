// Package server exposes the vetgraph pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/go-vetgraph"
	"github.com/soundprediction/go-vetgraph/pkg/config"
	"github.com/soundprediction/go-vetgraph/pkg/deferred"
	"github.com/soundprediction/go-vetgraph/pkg/server/handlers"
)

// Server is the HTTP front of a VetGraph.
type Server struct {
	config *config.Config
	graph  vetgraph.VetGraph
	logger *slog.Logger
	queue  *deferred.Queue
	checks map[string]handlers.Check

	router     *gin.Engine
	httpServer *http.Server
	kg         *handlers.KnowledgeGraphHandler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and background work logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithQueue persists change notifications before they are applied.
func WithQueue(q *deferred.Queue) Option { return func(s *Server) { s.queue = q } }

// WithReadinessCheck adds a dependency check to GET /ready.
func WithReadinessCheck(name string, check handlers.Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

// New creates a server. Call Setup before Start.
func New(cfg *config.Config, g vetgraph.VetGraph, options ...Option) *Server {
	s := &Server{
		config: cfg,
		graph:  g,
		logger: slog.Default(),
		checks: map[string]handlers.Check{},
	}
	for _, opt := range options {
		opt(s)
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return s
}

// Handler returns the configured router. It is nil before Setup.
func (s *Server) Handler() http.Handler { return s.router }

// Setup registers middleware and routes.
func (s *Server) Setup() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.logger))

	health := handlers.NewHealthHandler(s.checks)
	s.kg = handlers.NewKnowledgeGraphHandler(s.graph, s.queue, s.logger)

	s.router.GET("/health", health.HealthCheck)
	s.router.GET("/ready", health.ReadinessCheck)

	v1 := s.router.Group("/v1")
	kg := v1.Group("/knowledge_graph")
	{
		kg.POST("/trigger", s.kg.Trigger)
		kg.POST("/build", s.kg.Build)
		kg.POST("/rules/evaluate", s.kg.EvaluateRules)
		kg.GET("/queue", s.kg.QueueStats)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("server not set up")
	}
	s.logger.Info("starting server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down, then waits for background builds and
// change batches until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.kg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background work still running: %w", ctx.Err())
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
