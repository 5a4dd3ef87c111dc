package indicator

import (
	"time"

	"github.com/moznion/go-optional"

	"MarketPulse/internal/domain/models"
)

const (
	shortMA      = 20
	longMA       = 50
	rsiPeriod    = 14
	bandPeriod   = 20
	bandWidth    = 2.0
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
	volumeWindow = 20
)

// MinBars is the shortest series Compute accepts regardless of configuration.
const MinBars = shortMA

// Compute derives a full technicals snapshot from bars. It reports false when
// fewer than max(minWindow, MinBars) bars are available.
func Compute(bars []models.Bar, minWindow int, now time.Time) (models.Technicals, bool) {
	if minWindow < MinBars {
		minWindow = MinBars
	}
	if len(bars) < minWindow {
		return models.Technicals{}, false
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	t := models.Technicals{
		SMA50:      optional.None[float64](),
		MACD:       optional.None[models.MACD](),
		Bars:       len(bars),
		ComputedAt: now,
	}
	t.SMA20, _ = SMA(closes, shortMA)
	t.AvgVolume20, _ = SMA(volumes, volumeWindow)
	t.RSI, _ = RSI(closes, rsiPeriod)

	if bb, ok := Bollinger(closes, bandPeriod, bandWidth); ok {
		t.Bollinger = models.BollingerBands{Upper: bb.Upper, Middle: bb.Middle, Lower: bb.Lower}
	}
	if v, ok := SMA(closes, longMA); ok {
		t.SMA50 = optional.Some(v)
	}
	if m, ok := MACD(closes, macdFast, macdSlow, macdSignal); ok {
		t.MACD = optional.Some(models.MACD{Line: m.Line, Signal: m.Signal, Histogram: m.Histogram})
	}
	return t, true
}
