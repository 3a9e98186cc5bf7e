package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/store"
)

// RouteRequest is the body of POST /users/:userID/route.
type RouteRequest struct {
	Text string `json:"text"`
	// RecentInterruptions counts interruptions in the current work block.
	RecentInterruptions int `json:"recent_interruptions,omitempty"`
	// RecentCategories lists categories handled just before this request,
	// most recent first.
	RecentCategories []routing.Category `json:"recent_categories,omitempty"`
}

// Route classifies the task, estimates cognitive state, runs the decision
// pipeline, and persists the resulting decision.
func (s *APIV1Service) Route(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("userID")

	req := &RouteRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed route request").SetInternal(err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task text is required")
	}

	userProfile, err := s.Store.GetUserProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile").SetInternal(err)
	}

	decision, err := s.Routing.Route(ctx, req.Text, userProfile, time.Now(), routing.EstimateContext{
		RecentInterruptions: req.RecentInterruptions,
		RecentCategories:    req.RecentCategories,
	})
	if err != nil {
		var validationErr *routing.ValidationError
		if errors.As(err, &validationErr) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, validationErr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to route task").SetInternal(err)
	}
	return c.JSON(http.StatusOK, decision)
}

// ClassifyRequest is the body of POST /users/:userID/classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// Classify returns the classification for a task text without routing it.
func (s *APIV1Service) Classify(c echo.Context) error {
	req := &ClassifyRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed classify request").SetInternal(err)
	}
	return c.JSON(http.StatusOK, s.Routing.Classify(req.Text))
}

// CognitiveStateRequest is the body of POST /users/:userID/cognitive-state.
type CognitiveStateRequest struct {
	Text                string             `json:"text"`
	RecentInterruptions int                `json:"recent_interruptions,omitempty"`
	RecentCategories    []routing.Category `json:"recent_categories,omitempty"`
}

// EstimateCognitiveState returns the capacity/alignment estimate for a task
// without routing it.
func (s *APIV1Service) EstimateCognitiveState(c echo.Context) error {
	ctx := c.Request().Context()

	req := &CognitiveStateRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed cognitive state request").SetInternal(err)
	}

	userProfile, err := s.Store.GetUserProfile(ctx, c.Param("userID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile").SetInternal(err)
	}

	classification := s.Routing.Classify(req.Text)
	state, err := s.Routing.EstimateCognitiveState(userProfile, time.Now(), classification, routing.EstimateContext{
		RecentInterruptions: req.RecentInterruptions,
		RecentCategories:    req.RecentCategories,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to estimate cognitive state").SetInternal(err)
	}
	return c.JSON(http.StatusOK, state)
}

// GetDecision returns one routing decision by id.
func (s *APIV1Service) GetDecision(c echo.Context) error {
	ctx := c.Request().Context()
	decision, err := s.Store.GetRoutingDecision(ctx, c.Param("decisionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "decision not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load decision").SetInternal(err)
	}
	return c.JSON(http.StatusOK, decision)
}

// OutcomeRequest is the body of POST /decisions/:decisionID/outcome.
type OutcomeRequest struct {
	Success     bool  `json:"success"`
	LatencyMs   int64 `json:"latency_ms"`
	Rating      *int  `json:"rating,omitempty"`
	CompletedTs int64 `json:"completed_ts,omitempty"`
}

// RecordOutcome attaches the task outcome to a persisted decision. Outcomes
// feed the performance summaries the pipeline's performance stage reads.
func (s *APIV1Service) RecordOutcome(c echo.Context) error {
	ctx := c.Request().Context()
	decisionID := c.Param("decisionID")

	req := &OutcomeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed outcome request").SetInternal(err)
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return echo.NewHTTPError(http.StatusBadRequest, "rating must be within 1..5")
	}

	decision, err := s.Store.GetRoutingDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "decision not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load decision").SetInternal(err)
	}

	err = s.Store.UpdateRoutingDecisionOutcome(ctx, decisionID, &routing.Outcome{
		Success:     req.Success,
		LatencyMs:   req.LatencyMs,
		Rating:      req.Rating,
		CompletedTs: req.CompletedTs,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record outcome").SetInternal(err)
	}

	s.Metrics.ObserveOutcome(decision.Worker, req.Success)
	return c.NoContent(http.StatusNoContent)
}

// ListWorkers returns the configured worker registry.
func (s *APIV1Service) ListWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Registry.List())
}
