package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/store"
)

// GetUserProfile returns the routing profile of one user.
func (s *APIV1Service) GetUserProfile(c echo.Context) error {
	userProfile, err := s.Store.GetUserProfile(c.Request().Context(), c.Param("userID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile").SetInternal(err)
	}
	return c.JSON(http.StatusOK, userProfile)
}

// UpsertUserProfile creates or replaces a user's routing profile. The path
// user id is authoritative; a mismatching body id is rejected.
func (s *APIV1Service) UpsertUserProfile(c echo.Context) error {
	userID := c.Param("userID")

	req := &routing.UserProfile{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed profile").SetInternal(err)
	}
	if req.UserID != "" && req.UserID != userID {
		return echo.NewHTTPError(http.StatusBadRequest, "profile user id does not match path")
	}
	req.UserID = userID

	for category, workerID := range req.Preferences {
		if workerID == "" {
			continue
		}
		if _, ok := s.Registry.Get(workerID); !ok {
			return echo.NewHTTPError(http.StatusBadRequest,
				"unknown preferred worker "+workerID+" for category "+string(category))
		}
	}

	updated, err := s.Store.UpsertUserProfile(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save user profile").SetInternal(err)
	}
	return c.JSON(http.StatusOK, updated)
}
