package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/logging"
)

// RequestLogger writes one structured line per request.
func RequestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	log := logger.With("component", "http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			fields := []interface{}{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"bytes", res.Size,
				"duration", time.Since(start),
			}
			if id, ok := UserID(c); ok {
				fields = append(fields, "user_id", id)
			}
			if res.Status >= 500 {
				log.Error("request", fields...)
			} else {
				log.Info("request", fields...)
			}
			return nil
		}
	}
}
