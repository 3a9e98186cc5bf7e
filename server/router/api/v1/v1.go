// Package v1 exposes the routing decision engine over a REST API.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/metrics"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/ai/worker"
	"github.com/hrygo/modelpilot/internal/profile"
	"github.com/hrygo/modelpilot/store"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Registry *worker.Registry

	Routing  *routing.Service
	Analyzer *drift.Analyzer
	Engine   *drift.Engine
	Metrics  *metrics.PrometheusExporter
}

func NewAPIV1Service(
	instanceProfile *profile.Profile,
	storeInstance *store.Store,
	registry *worker.Registry,
	routingService *routing.Service,
	analyzer *drift.Analyzer,
	engine *drift.Engine,
	exporter *metrics.PrometheusExporter,
) *APIV1Service {
	return &APIV1Service{
		Profile:  instanceProfile,
		Store:    storeInstance,
		Registry: registry,
		Routing:  routingService,
		Analyzer: analyzer,
		Engine:   engine,
		Metrics:  exporter,
	}
}

// RegisterRoutes mounts all v1 endpoints on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.GET("/workers", s.ListWorkers)

	g.POST("/users/:userID/route", s.Route)
	g.POST("/users/:userID/classify", s.Classify)
	g.POST("/users/:userID/cognitive-state", s.EstimateCognitiveState)
	g.GET("/users/:userID/drift", s.DetectDrift)
	g.GET("/users/:userID/suggestions", s.ListSuggestions)

	g.GET("/users/:userID/profile", s.GetUserProfile)
	g.PUT("/users/:userID/profile", s.UpsertUserProfile)

	g.POST("/decisions/:decisionID/outcome", s.RecordOutcome)
	g.GET("/decisions/:decisionID", s.GetDecision)

	g.POST("/suggestions/:suggestionID/accept", s.AcceptSuggestion)
	g.POST("/suggestions/:suggestionID/reject", s.RejectSuggestion)

	g.POST("/drift/run", s.RunDriftAnalysis)
}
