package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/metrics"
)

// Metrics records request counts and latency labelled by the matched route
// pattern, not the raw path.
func Metrics(col *metrics.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if col == nil {
				return next(c)
			}
			col.InFlightGauge.Inc()
			defer col.InFlightGauge.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			col.ObserveRequest(c.Request().Method, route, strconv.Itoa(status), time.Since(start))
			return err
		}
	}
}
