package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			fields := context.Fields(req.Context())
			fields["uri"] = req.RequestURI
			fields["status"] = res.Status
			fields["path"] = c.Path()
			fields["user_agent"] = req.UserAgent()
			fields["response_time"] = elapsed
			fields["response_size"] = strconv.FormatInt(res.Size, 10)

			entry := logger.WithContext(req.Context()).WithFields(fields)
			if res.Status >= 500 {
				entry.Warn("Request")
				return nil
			}
			entry.Info("Request")
			return nil
		}
	}
}
