package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit rejects request bodies larger than limit ("512K", "1M", ...)
// with a JSON {"error": ...} body. It panics on a malformed limit, like
// echo's own BodyLimit.
func BodyLimit(limit string) echo.MiddlewareFunc {
	limiter := echomw.BodyLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := limiter(next)
		return func(c echo.Context) error {
			err := h(c)
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge && !c.Response().Committed {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": "request body exceeds " + limit,
				})
			}
			return err
		}
	}
}
