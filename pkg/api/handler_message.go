package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/models"
)

// listMessagesHandler handles GET /api/messages.
// Query parameters: instance_id, chat, since (RFC3339), status, limit, offset.
func (s *Server) listMessagesHandler(c echo.Context) error {
	f := models.MessageFilters{
		InstanceID: c.QueryParam("instance_id"),
		ChatName:   c.QueryParam("chat"),
		Status:     models.DeliveryStatus(c.QueryParam("status")),
	}

	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		f.Since = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1-500")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		f.Offset = n
	}

	list, err := s.svc.Messages.List(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// getMessageHandler handles GET /api/messages/:id.
func (s *Server) getMessageHandler(c echo.Context) error {
	m, err := s.svc.Messages.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// messageAttemptsHandler handles GET /api/messages/:id/attempts.
func (s *Server) messageAttemptsHandler(c echo.Context) error {
	attempts, err := s.svc.Messages.Attempts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if attempts == nil {
		attempts = []*models.DeliveryAttempt{}
	}
	return c.JSON(http.StatusOK, attempts)
}

// redeliverMessageHandler handles POST /api/messages/:id/redeliver. Only
// terminal messages can be requeued; in-flight ones return 409.
func (s *Server) redeliverMessageHandler(c echo.Context) error {
	if err := s.svc.Messages.Redeliver(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "requeued"})
}
