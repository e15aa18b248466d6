package api

import (
	"net/http"
	"net/url"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/services"
)

// listListenersHandler handles GET /api/listeners. An optional instance_id
// query parameter narrows the result to one instance.
func (s *Server) listListenersHandler(c echo.Context) error {
	list, err := s.svc.Listeners.List(c.Request().Context(), c.QueryParam("instance_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// addListenerHandler handles POST /api/listeners. The listener is registered
// on the upstream agent before the row is persisted.
func (s *Server) addListenerHandler(c echo.Context) error {
	var req ListenerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	l, err := s.svc.Listeners.Add(c.Request().Context(), services.ListenerInput{
		InstanceID: req.InstanceID,
		ChatName:   req.ChatName,
		Fixed:      req.Fixed,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

// removeListenerHandler handles DELETE /api/listeners/:instance_id/:chat.
// The chat segment is path-escaped; chat names routinely carry non-ASCII.
func (s *Server) removeListenerHandler(c echo.Context) error {
	chat, err := url.PathUnescape(c.Param("chat"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chat name encoding")
	}

	if err := s.svc.Listeners.Remove(c.Request().Context(), c.Param("instance_id"), chat); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "removed"})
}
