package api

import (
	"github.com/labstack/echo/v4"

	"MarketPulse/internal/service/ratelimit"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// RateLimit rejects clients that exceed their per-IP bucket with 429.
func RateLimit(l *ratelimit.Limiter, logger *xlogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ok, wait := l.Take(c.RealIP()); !ok {
				if logger != nil {
					logger.Warn("rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
				}
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited", wait))
			}
			return next(c)
		}
	}
}
