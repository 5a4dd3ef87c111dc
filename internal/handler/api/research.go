package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/service/twelvedata"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// ResearchService answers on-demand lookups that go through the polling
// provider's request queue rather than the live caches.
type ResearchService interface {
	Indicator(ctx context.Context, symbol, name, interval string) ([]twelvedata.IndicatorPoint, error)
	Earnings(ctx context.Context, day time.Time) ([]twelvedata.EarningsEvent, error)
}

type ResearchHandler struct {
	logger  *xlogger.Logger
	service ResearchService
	limit   echo.MiddlewareFunc
	now     func() time.Time
}

func NewResearchHandler(logger *xlogger.Logger, service ResearchService, limit echo.MiddlewareFunc) *ResearchHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ResearchHandler{logger: logger, service: service, limit: limit, now: time.Now}
}

func (h *ResearchHandler) RegisterRoutes(e *echo.Echo) {
	var mws []echo.MiddlewareFunc
	if h.limit != nil {
		mws = append(mws, h.limit)
	}
	g := e.Group("/api/research", mws...)
	g.GET("/indicators/:symbol/:indicator", h.Indicator)
	g.GET("/earnings", h.Earnings)
}

func (h *ResearchHandler) Indicator(c echo.Context) error {
	req := &IndicatorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	points, err := h.service.Indicator(c.Request().Context(), req.Symbol, req.Name, req.Interval)
	if err != nil {
		return h.upstreamError(c, "indicator", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.ListResponse(c, points, int64(len(points)))
}

func (h *ResearchHandler) Earnings(c echo.Context) error {
	req := &EarningsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	day := h.now()
	if req.Date != "" {
		d, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("date must be YYYY-MM-DD, got %q", req.Date))
		}
		day = d
	}
	events, err := h.service.Earnings(c.Request().Context(), day)
	if err != nil {
		return h.upstreamError(c, "earnings", err)
	}
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *ResearchHandler) upstreamError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, twelvedata.ErrRateLimited):
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("upstream rate limit reached, retry later", time.Minute).WithError(err))
	case errors.Is(err, twelvedata.ErrProviderError):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	}
	h.logger.Error("research lookup failed", xlogger.String("op", op), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(op+" lookup failed").WithError(err))
}
