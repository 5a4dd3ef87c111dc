package middleware

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"MarketPulse/pkg/logger"
)

// RequestID reuses the caller's X-Request-ID or assigns a new one, and
// echoes it on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// RequestLogging logs every request. Server errors log at error level,
// websocket streams at info when they close, everything else at debug.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", status),
				logger.Duration("latency", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}

			switch {
			case status >= 500:
				l.Error("http request", fields...)
			case strings.EqualFold(req.Header.Get(echo.HeaderUpgrade), "websocket"):
				l.Info("stream closed", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
