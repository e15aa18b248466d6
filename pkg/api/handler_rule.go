package api

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/services"
)

// listRulesHandler handles GET /api/rules.
func (s *Server) listRulesHandler(c echo.Context) error {
	list, err := s.svc.Rules.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// createRuleHandler handles POST /api/rules. Conflicts with existing rules
// are returned alongside the created rule, never blocking it.
func (s *Server) createRuleHandler(c echo.Context) error {
	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, conflicts, err := s.svc.Rules.Create(c.Request().Context(), ruleInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &RuleResponse{Rule: rule, Conflicts: conflicts})
}

// getRuleHandler handles GET /api/rules/:id.
func (s *Server) getRuleHandler(c echo.Context) error {
	rule, err := s.svc.Rules.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// updateRuleHandler handles PUT /api/rules/:id.
func (s *Server) updateRuleHandler(c echo.Context) error {
	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, conflicts, err := s.svc.Rules.Update(c.Request().Context(), c.Param("id"), ruleInput(req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &RuleResponse{Rule: rule, Conflicts: conflicts})
}

// deleteRuleHandler handles DELETE /api/rules/:id.
func (s *Server) deleteRuleHandler(c echo.Context) error {
	if err := s.svc.Rules.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deleted"})
}

func ruleInput(req RuleRequest) services.RuleInput {
	return services.RuleInput{
		RuleID:         req.RuleID,
		Name:           req.Name,
		InstanceID:     req.InstanceID,
		ChatPattern:    req.ChatPattern,
		PlatformID:     req.PlatformID,
		Priority:       req.Priority,
		Enabled:        req.Enabled,
		OnlyAtMessages: req.OnlyAtMessages,
	}
}
