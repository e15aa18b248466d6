package api

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/services"
)

// listInstancesHandler handles GET /api/instances.
func (s *Server) listInstancesHandler(c echo.Context) error {
	list, err := s.svc.Instances.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactInstances(list))
}

// createInstanceHandler handles POST /api/instances.
func (s *Server) createInstanceHandler(c echo.Context) error {
	var req InstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	inst, err := s.svc.Instances.Create(c.Request().Context(), instanceInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, redactInstance(inst))
}

// getInstanceHandler handles GET /api/instances/:id.
func (s *Server) getInstanceHandler(c echo.Context) error {
	inst, err := s.svc.Instances.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactInstance(inst))
}

// updateInstanceHandler handles PUT /api/instances/:id. An empty api_key
// keeps the stored key.
func (s *Server) updateInstanceHandler(c echo.Context) error {
	var req InstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	inst, err := s.svc.Instances.Update(c.Request().Context(), c.Param("id"), instanceInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, redactInstance(inst))
}

// deleteInstanceHandler handles DELETE /api/instances/:id.
func (s *Server) deleteInstanceHandler(c echo.Context) error {
	if err := s.svc.Instances.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deleted"})
}

// enableInstanceHandler handles POST /api/instances/:id/enable.
func (s *Server) enableInstanceHandler(c echo.Context) error {
	return s.setInstanceEnabled(c, true, "enabled")
}

// disableInstanceHandler handles POST /api/instances/:id/disable.
func (s *Server) disableInstanceHandler(c echo.Context) error {
	return s.setInstanceEnabled(c, false, "disabled")
}

func (s *Server) setInstanceEnabled(c echo.Context, enabled bool, status string) error {
	if err := s.svc.Instances.SetEnabled(c.Request().Context(), c.Param("id"), enabled); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: status})
}

func instanceInput(req InstanceRequest) services.InstanceInput {
	return services.InstanceInput{
		InstanceID: req.InstanceID,
		Name:       req.Name,
		BaseURL:    req.BaseURL,
		APIKey:     req.APIKey,
		Enabled:    req.Enabled,
		Config:     req.Config,
	}
}
