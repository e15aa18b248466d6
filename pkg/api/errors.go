package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/wxgate/wxgate/pkg/redact"
	"github.com/wxgate/wxgate/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// Unexpected errors are logged and redacted before leaving the process.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, redact.Error(err))
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, redact.Error(err))
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
