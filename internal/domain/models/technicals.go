package models

import (
	"time"

	"github.com/moznion/go-optional"
)

type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Technicals is recomputed from the whole buffer each time a bar lands.
// Indicators whose window is longer than the buffer stay None.
type Technicals struct {
	SMA20       float64                  `json:"sma20"`
	SMA50       optional.Option[float64] `json:"sma50"`
	RSI         float64                  `json:"rsi"`
	Bollinger   BollingerBands           `json:"bollinger"`
	MACD        optional.Option[MACD]    `json:"macd"`
	AvgVolume20 float64                  `json:"avgVolume20"`
	Bars        int                      `json:"bars"`
	ComputedAt  time.Time                `json:"computedAt"`
}
