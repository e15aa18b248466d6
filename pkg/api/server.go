// Package api serves the management HTTP surface: CRUD for instances,
// platforms, rules, and listeners, read access to the message pipeline,
// system introspection, Prometheus metrics, and WebSocket push.
package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/wxgate/wxgate/pkg/config"
	"github.com/wxgate/wxgate/pkg/database"
	"github.com/wxgate/wxgate/pkg/events"
	"github.com/wxgate/wxgate/pkg/metrics"
	"github.com/wxgate/wxgate/pkg/services"
)

// Services bundles the service layer the handlers delegate to.
type Services struct {
	Instances *services.InstanceService
	Platforms *services.PlatformService
	Rules     *services.RuleService
	Listeners *services.ListenerService
	Messages  *services.MessageService
	System    *services.SystemService
	Warnings  *services.WarningsService
}

// Server is the management HTTP server.
type Server struct {
	echo        *echo.Echo
	cfg         config.ServerConfig
	dbClient    *database.Client
	svc         Services
	connManager *events.ConnectionManager
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewServer creates the server and registers all routes. connManager and m
// may be nil; the corresponding endpoints then report unavailable.
func NewServer(cfg config.ServerConfig, dbClient *database.Client, svc Services, connManager *events.ConnectionManager, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		cfg:         cfg,
		dbClient:    dbClient,
		svc:         svc,
		connManager: connManager,
		metrics:     m,
		logger:      slog.Default().With("component", "api"),
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.logger))
	e.Use(securityHeaders())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/api/health", s.healthHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api")

	api.GET("/instances", s.listInstancesHandler)
	api.POST("/instances", s.createInstanceHandler)
	api.GET("/instances/:id", s.getInstanceHandler)
	api.PUT("/instances/:id", s.updateInstanceHandler)
	api.DELETE("/instances/:id", s.deleteInstanceHandler)
	api.POST("/instances/:id/enable", s.enableInstanceHandler)
	api.POST("/instances/:id/disable", s.disableInstanceHandler)

	api.GET("/platforms", s.listPlatformsHandler)
	api.POST("/platforms", s.createPlatformHandler)
	api.GET("/platforms/:id", s.getPlatformHandler)
	api.PUT("/platforms/:id", s.updatePlatformHandler)
	api.DELETE("/platforms/:id", s.deletePlatformHandler)
	api.POST("/platforms/:id/test", s.testPlatformHandler)

	api.GET("/rules", s.listRulesHandler)
	api.POST("/rules", s.createRuleHandler)
	api.GET("/rules/:id", s.getRuleHandler)
	api.PUT("/rules/:id", s.updateRuleHandler)
	api.DELETE("/rules/:id", s.deleteRuleHandler)

	api.GET("/messages", s.listMessagesHandler)
	api.GET("/messages/:id", s.getMessageHandler)
	api.GET("/messages/:id/attempts", s.messageAttemptsHandler)
	api.POST("/messages/:id/redeliver", s.redeliverMessageHandler)

	api.GET("/listeners", s.listListenersHandler)
	api.POST("/listeners", s.addListenerHandler)
	api.DELETE("/listeners/:instance_id/:chat", s.removeListenerHandler)

	api.GET("/system/resources", s.systemResourcesHandler)
	api.GET("/system/health", s.systemHealthHandler)
	api.GET("/system/warnings", s.systemWarningsHandler)

	e.GET("/ws/messages", s.wsHandler)
	e.GET("/ws/status", s.wsHandler)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error. Blocks.
func (s *Server) Start(addr string) error {
	if s.cfg.TLSEnabled() {
		s.logger.Info("Starting HTTPS server", "addr", addr)
		return s.echo.StartTLS(addr, s.cfg.TLSCert, s.cfg.TLSKey)
	}
	s.logger.Info("Starting HTTP server", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
