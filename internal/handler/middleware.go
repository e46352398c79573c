package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/labstack/echo/v4"
)

// APIKeyMiddleware rejects requests that do not carry a known API key in
// the X-SimpleDispatch-Key header.
func APIKeyMiddleware(apiKeyService service.APIKeyServicer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.APIKeyHeader)
			if value == "" {
				return newError(c, nil, http.StatusUnauthorized, "missing api key")
			}
			if _, err := apiKeyService.GetAPIKeyByValue(c.Request().Context(), value); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return newError(c, err, http.StatusUnauthorized, "invalid api key")
				}
				return newError(c, err,
					http.StatusInternalServerError, "unable to verify api key",
				)
			}
			return next(c)
		}
	}
}
