package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/pkg/logger"
)

// Recover turns a handler panic into a 500 and logs it with the stack.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					l.Error("panic in handler",
						logger.Error(perr),
						logger.String("path", c.Path()),
						logger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
						logger.String("stack", string(debug.Stack())),
					)
					if c.Response().Committed {
						// a stream already wrote its upgrade response
						err = perr
						return
					}
					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":    http.StatusInternalServerError,
						"message":   http.StatusText(http.StatusInternalServerError),
						"timestamp": time.Now().UTC(),
					})
				}
			}()
			return next(c)
		}
	}
}
