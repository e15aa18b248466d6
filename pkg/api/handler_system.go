package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/services"
)

// SystemWarningsResponse is returned by GET /api/system/warnings.
type SystemWarningsResponse struct {
	Warnings []SystemWarningItem `json:"warnings"`
}

// SystemWarningItem is a single system warning.
type SystemWarningItem struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// systemResourcesHandler handles GET /api/system/resources.
func (s *Server) systemResourcesHandler(c echo.Context) error {
	res, err := s.svc.System.Resources(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// systemHealthHandler handles GET /api/system/health.
func (s *Server) systemHealthHandler(c echo.Context) error {
	health, err := s.svc.System.Health(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if health.Instances == nil {
		health.Instances = []services.InstanceHealth{}
	}
	return c.JSON(http.StatusOK, health)
}

// systemWarningsHandler handles GET /api/system/warnings.
func (s *Server) systemWarningsHandler(c echo.Context) error {
	response := SystemWarningsResponse{
		Warnings: []SystemWarningItem{},
	}

	if s.svc.Warnings != nil {
		for _, w := range s.svc.Warnings.GetWarnings() {
			response.Warnings = append(response.Warnings, SystemWarningItem{
				ID:        w.ID,
				Category:  w.Category,
				Message:   w.Message,
				Details:   w.Details,
				EntityID:  w.EntityID,
				CreatedAt: w.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	return c.JSON(http.StatusOK, response)
}
