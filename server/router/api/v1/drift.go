package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/store"
)

// DetectDrift runs on-demand drift detection for one user over the analyzer
// window. Detection is pure; no suggestions are generated here.
func (s *APIV1Service) DetectDrift(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("userID")

	userProfile, err := s.Store.GetUserProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile").SetInternal(err)
	}

	since := time.Now().Add(-drift.DefaultAnalyzerConfig().Window)
	decisions, err := s.Store.ListRoutingDecisions(ctx, userID, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load decision window").SetInternal(err)
	}

	drifts := s.Analyzer.Detect(userProfile, decisions)
	if drifts == nil {
		drifts = []drift.Drift{}
	}
	return c.JSON(http.StatusOK, drifts)
}

// RunDriftAnalysis runs a full analysis pass over all active users and
// returns the run report. The same pass also runs on the drift schedule.
func (s *APIV1Service) RunDriftAnalysis(c echo.Context) error {
	report, err := s.Analyzer.Run(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "drift analysis pass failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, report)
}

// ListSuggestions returns a user's suggestions, optionally filtered by the
// status query parameter. An empty status returns all of them.
func (s *APIV1Service) ListSuggestions(c echo.Context) error {
	status := drift.Status(c.QueryParam("status"))
	switch status {
	case "", drift.StatusPending, drift.StatusAccepted, drift.StatusRejected, drift.StatusStale:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown suggestion status")
	}

	suggestions, err := s.Engine.List(c.Request().Context(), c.Param("userID"), status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list suggestions").SetInternal(err)
	}
	if suggestions == nil {
		suggestions = []*drift.Suggestion{}
	}
	return c.JSON(http.StatusOK, suggestions)
}

// AcceptSuggestion applies a suggested preference to the user's profile.
// Accepting an already-resolved suggestion is an idempotent no-op.
func (s *APIV1Service) AcceptSuggestion(c echo.Context) error {
	result, err := s.Engine.Accept(c.Request().Context(), c.Param("suggestionID"))
	if err != nil {
		if errors.Is(err, drift.ErrSuggestionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "suggestion not found")
		}
		if errors.Is(err, drift.ErrVersionConflict) {
			return echo.NewHTTPError(http.StatusConflict, "profile changed concurrently, retry").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept suggestion").SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}

// RejectRequest is the body of POST /suggestions/:suggestionID/reject.
type RejectRequest struct {
	Note string `json:"note,omitempty"`
}

// RejectSuggestion marks a pending suggestion rejected. Rejecting an
// already-resolved suggestion is an idempotent no-op.
func (s *APIV1Service) RejectSuggestion(c echo.Context) error {
	req := &RejectRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed reject request").SetInternal(err)
	}

	result, err := s.Engine.Reject(c.Request().Context(), c.Param("suggestionID"), req.Note)
	if err != nil {
		if errors.Is(err, drift.ErrSuggestionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "suggestion not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reject suggestion").SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}
