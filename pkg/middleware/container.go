package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"
)

// Container makes handlers resolve dependencies from the container registered under id
func Container(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, err := ectoinject.SetActiveContainer(c.Request().Context(), id)
			if err != nil {
				return httperror.NewHTTPError(http.StatusInternalServerError, "dependency container not available")
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
