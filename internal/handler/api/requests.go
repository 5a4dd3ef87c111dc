package api

import "MarketPulse/pkg/util"

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
}

type BarsRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
	Count  int    `query:"count" default:"50" validate:"gte=1"`
}

type MoversRequest struct {
	Limit int `query:"limit" default:"10" validate:"gte=1,lte=100"`
}

type WatchlistRequest struct {
	Symbol string `json:"symbol" validate:"required,ticker"`
}

type IndicatorRequest struct {
	Symbol   string `param:"symbol" validate:"required,ticker"`
	Name     string `param:"indicator" validate:"required,oneof=rsi macd sma ema bbands adx atr stoch"`
	Interval string `query:"interval" default:"1day" validate:"oneof=1min 5min 15min 30min 1h 4h 1day 1week"`
}

type EarningsRequest struct {
	Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
}

type AlertsRequest struct {
	Symbol string `query:"symbol" validate:"omitempty,ticker"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

func (r *SymbolRequest) Normalize() { r.Symbol = util.NormalizeSymbol(r.Symbol) }

func (r *BarsRequest) Normalize() { r.Symbol = util.NormalizeSymbol(r.Symbol) }

func (r *WatchlistRequest) Normalize() { r.Symbol = util.NormalizeSymbol(r.Symbol) }

func (r *IndicatorRequest) Normalize() { r.Symbol = util.NormalizeSymbol(r.Symbol) }

func (r *AlertsRequest) Normalize() { r.Symbol = util.NormalizeSymbol(r.Symbol) }
