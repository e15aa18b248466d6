package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v4"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// connection manager. Channel selection happens via the subscribe action,
// so /ws/messages and /ws/status share one handler.
func (s *Server) wsHandler(c echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The management surface sits behind the deployment's auth proxy;
		// origin checks belong there.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
