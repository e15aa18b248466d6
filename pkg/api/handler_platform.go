package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/redact"
	"github.com/wxgate/wxgate/pkg/services"
)

// listPlatformsHandler handles GET /api/platforms.
func (s *Server) listPlatformsHandler(c echo.Context) error {
	list, err := s.svc.Platforms.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactPlatforms(list))
}

// createPlatformHandler handles POST /api/platforms.
func (s *Server) createPlatformHandler(c echo.Context) error {
	var req PlatformRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := s.svc.Platforms.Create(c.Request().Context(), platformInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, redactPlatform(p))
}

// getPlatformHandler handles GET /api/platforms/:id.
func (s *Server) getPlatformHandler(c echo.Context) error {
	p, err := s.svc.Platforms.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactPlatform(p))
}

// updatePlatformHandler handles PUT /api/platforms/:id. A non-nil config
// replaces the stored config wholesale.
func (s *Server) updatePlatformHandler(c echo.Context) error {
	var req PlatformRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := s.svc.Platforms.Update(c.Request().Context(), c.Param("id"), platformInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactPlatform(p))
}

// deletePlatformHandler handles DELETE /api/platforms/:id.
func (s *Server) deletePlatformHandler(c echo.Context) error {
	if err := s.svc.Platforms.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deleted"})
}

// testPlatformHandler handles POST /api/platforms/:id/test. Failures return
// 200 with the redacted error so the caller can display it.
func (s *Server) testPlatformHandler(c echo.Context) error {
	err := s.svc.Platforms.TestConnection(c.Request().Context(), c.Param("id"))
	if err == nil {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	}
	if errors.Is(err, services.ErrNotFound) {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": false, "error": redact.Error(err)})
}

func platformInput(req PlatformRequest) services.PlatformInput {
	return services.PlatformInput{
		PlatformID: req.PlatformID,
		Name:       req.Name,
		Kind:       models.PlatformKind(req.Kind),
		Config:     req.Config,
		Enabled:    req.Enabled,
	}
}
