// Package api is the admin and ingestion HTTP surface, built on gin
// the way the teacher's go-server/main.go wires its routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intouch-cp/lb-controlplane/coordinator"
	"github.com/intouch-cp/lb-controlplane/metrics"
	"github.com/intouch-cp/lb-controlplane/policy"
	"github.com/intouch-cp/lb-controlplane/proxyconfig"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

// Server bundles the dependencies the handlers close over.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	ingestor *metrics.Ingestor
	policies *policy.Store
	weights  *weight.Engine
	servers  *registry.Registry
	coord    *coordinator.Coordinator
	mat      *proxyconfig.Materializer
}

// New builds the gin engine and registers every route.
func New(addr string, ingestor *metrics.Ingestor, policies *policy.Store, weights *weight.Engine, servers *registry.Registry, coord *coordinator.Coordinator, mat *proxyconfig.Materializer) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		http:     &http.Server{Addr: addr, Handler: engine},
		ingestor: ingestor,
		policies: policies,
		weights:  weights,
		servers:  servers,
		coord:    coord,
		mat:      mat,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)

	s.engine.POST("/v1/metrics", s.handleIngestMetric)

	admin := s.engine.Group("/v1/admin")
	admin.GET("/servers", s.handleListServers)
	admin.POST("/servers", s.handleAddServer)
	admin.DELETE("/servers/:id", s.handleRemoveServer)
	admin.POST("/servers/:id/enable", s.handleEnableServer)
	admin.POST("/servers/:id/disable", s.handleDisableServer)

	admin.GET("/policy", s.handleListPolicies)
	admin.PUT("/policy/:id/fixed-weight", s.handleSetFixedWeight)
	admin.POST("/policy/:id/enable-dynamic", s.handleEnableDynamic)
	admin.PUT("/policy/:id/thresholds", s.handleSetThresholds)
	admin.POST("/policy/:id/auto-removal", s.handleSetAutoRemoval)
	admin.POST("/policy/:id/remove", s.handleManualRemove)
	admin.POST("/policy/:id/re-enable", s.handleReEnable)
	admin.POST("/policy/reset", s.handleResetPolicies)

	admin.GET("/weight-factors", s.handleGetWeightFactors)
	admin.PUT("/weight-factors", s.handleSetWeightFactors)
	admin.POST("/weight-factors/preset/:name", s.handleApplyPreset)

	admin.GET("/instances", s.handleListInstances)
	admin.GET("/config/current", s.handleCurrentConfig)
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	return s.http.ListenAndServe()
}

// Handler exposes the underlying gin engine so tests can drive routes
// with httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Shutdown gracefully stops the HTTP server, mirroring the teacher's
// server.Shutdown(ctx) call in go-server/main.go.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
