package api

import (
	"github.com/labstack/echo/v4"

	xhttp "MarketPulse/pkg/http"
)

// Routes registers several handlers on one Echo instance; nil entries are skipped.
type Routes []xhttp.Handler

func (r Routes) RegisterRoutes(e *echo.Echo) {
	for _, h := range r {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
