package api

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// MarketService is the slice of the market-data engine the HTTP layer reads.
type MarketService interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	GetQuote(symbol string) (models.Quote, bool)
	GetTechnicals(symbol string) (models.Technicals, bool)
	GetHistoricalBars(symbol string, count int) []models.Bar
	HistoryCapacity() int
	GetStatus() models.Status
	Movers(n int) []models.Quote
}

type OptionsService interface {
	AddSymbol(symbol string) error
	RemoveSymbol(symbol string) error
	GetOptionsData(symbol string) (models.OptionsFlow, bool)
	Status() models.OptionsStatus
}

// MarketHandler serves cached reads and watchlist changes under /api.
type MarketHandler struct {
	logger  *xlogger.Logger
	market  MarketService
	options OptionsService
	alerts  drepo.AlertStore
	limit   echo.MiddlewareFunc
}

type MarketOption func(*MarketHandler)

// WithAlertStore enables GET /api/alerts.
func WithAlertStore(s drepo.AlertStore) MarketOption {
	return func(h *MarketHandler) { h.alerts = s }
}

func WithRateLimit(mw echo.MiddlewareFunc) MarketOption {
	return func(h *MarketHandler) { h.limit = mw }
}

func NewMarketHandler(logger *xlogger.Logger, market MarketService, options OptionsService, opts ...MarketOption) *MarketHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &MarketHandler{logger: logger, market: market, options: options}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	var mws []echo.MiddlewareFunc
	if h.limit != nil {
		mws = append(mws, h.limit)
	}
	g := e.Group("/api", mws...)
	g.GET("/status", h.Status)
	g.GET("/quotes/:symbol", h.Quote)
	g.GET("/technicals/:symbol", h.Technicals)
	g.GET("/bars/:symbol", h.Bars)
	g.GET("/movers", h.Movers)
	g.POST("/watchlist", h.Watch)
	g.DELETE("/watchlist/:symbol", h.Unwatch)

	if h.options != nil {
		g.GET("/options/status", h.OptionsStatus)
		g.GET("/options/:symbol", h.OptionsData)
		g.POST("/options/watchlist", h.OptionsWatch)
		g.DELETE("/options/watchlist/:symbol", h.OptionsUnwatch)
	}
	if h.alerts != nil {
		g.GET("/alerts", h.Alerts)
	}
}

func (h *MarketHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.market.GetStatus())
}

func (h *MarketHandler) Quote(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	q, ok := h.market.GetQuote(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no quote for %s", req.Symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, q)
}

func (h *MarketHandler) Technicals(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t, ok := h.market.GetTechnicals(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("technicals for %s not available yet", req.Symbol))
	}
	return xhttp.SuccessResponse(c, t)
}

func (h *MarketHandler) Bars(c echo.Context) error {
	req := &BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if limit := h.market.HistoryCapacity(); req.Count > limit {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("count must be at most %d", limit).WithParam("max", limit))
	}
	bars := h.market.GetHistoricalBars(req.Symbol, req.Count)
	if bars == nil {
		bars = []models.Bar{}
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *MarketHandler) Movers(c echo.Context) error {
	req := &MoversRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	movers := h.market.Movers(req.Limit)
	return xhttp.ListResponse(c, movers, int64(len(movers)))
}

func (h *MarketHandler) Watch(c echo.Context) error {
	req := &WatchlistRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.market.Subscribe(req.Symbol); err != nil {
		return h.membershipError(c, "subscribe", err)
	}
	return xhttp.CreatedResponse(c, h.market.GetStatus())
}

func (h *MarketHandler) Unwatch(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.market.Unsubscribe(req.Symbol); err != nil {
		return h.membershipError(c, "unsubscribe", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MarketHandler) OptionsStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.options.Status())
}

func (h *MarketHandler) OptionsData(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, ok := h.options.GetOptionsData(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no options flow for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, f)
}

func (h *MarketHandler) OptionsWatch(c echo.Context) error {
	req := &WatchlistRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.options.AddSymbol(req.Symbol); err != nil {
		return h.membershipError(c, "options add", err)
	}
	return xhttp.CreatedResponse(c, h.options.Status())
}

func (h *MarketHandler) OptionsUnwatch(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.options.RemoveSymbol(req.Symbol); err != nil {
		return h.membershipError(c, "options remove", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MarketHandler) Alerts(c echo.Context) error {
	req := &AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	alerts, err := h.alerts.Recent(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		h.logger.Error("alert journal query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("alert journal unavailable").WithError(err))
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *MarketHandler) membershipError(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrInvalidSymbol) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	h.logger.Error(fmt.Sprintf("%s failed", op), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
