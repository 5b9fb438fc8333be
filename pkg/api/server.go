// Package api wires the ingest, review, store-config, and legacy-bridge
// services onto an HTTP surface via gin, per spec.md §6.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/audit"
	"github.com/posgateway/posgateway/pkg/events"
	"github.com/posgateway/posgateway/pkg/ingest"
	"github.com/posgateway/posgateway/pkg/legacybridge"
	"github.com/posgateway/posgateway/pkg/review"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	log        *slog.Logger

	ingester *ingest.Service
	reviews  *review.Store
	stores   *storeconfig.Store
	auditLog *audit.Log
	hub      *events.Hub
	poller   *legacybridge.Poller // nil when the legacy bridge is disabled

	fixtures []Fixture
}

// NewServer builds a Server and registers all routes.
func NewServer(ingester *ingest.Service, reviews *review.Store, stores *storeconfig.Store, auditLog *audit.Log, hub *events.Hub, poller *legacybridge.Poller, fixtures []Fixture, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(requestLogger(log))

	s := &Server{
		engine:   e,
		log:      log,
		ingester: ingester,
		reviews:  reviews,
		stores:   stores,
		auditLog: auditLog,
		hub:      hub,
		poller:   poller,
		fixtures: fixtures,
	}
	s.setupRoutes()
	return s
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	orders := s.engine.Group("/api/orders")

	orders.POST("/ingest-pos-text", s.ingestHandler)
	orders.POST("/stores/:storeId/ingest-pos-text", s.ingestWithStoreHandler)

	orders.GET("/review", s.listReviewHandler)
	orders.GET("/review/details", s.reviewDetailsHandler)
	orders.GET("/review/:orderId", s.getReviewHandler)
	orders.DELETE("/review/:orderId", s.deleteReviewHandler)
	orders.POST("/review/decision", s.reviewDecisionHandler)
	orders.POST("/review/clear-test-data", s.clearTestDataHandler)

	orders.GET("/pipeline-config", s.getPipelineConfigHandler)
	orders.PUT("/pipeline-config", s.putPipelineConfigHandler)
	orders.GET("/llm-config", s.getLLMConfigHandler)
	orders.PUT("/llm-config", s.putLLMConfigHandler)

	orders.GET("/ingest-engine/status", s.ingestEngineStatusHandler)
	orders.GET("/ingest-fixtures", s.ingestFixturesHandler)
	orders.POST("/ingest-test-suite", s.ingestTestSuiteHandler)

	orders.GET("/events", s.eventsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener —
// used by tests to bind a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Engine exposes the underlying gin engine, for tests that drive it
// directly via httptest without binding a real listener.
func (s *Server) Engine() http.Handler {
	return s.engine
}
