package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

func assertClose(t *testing.T, want, got float64) {
	t.Helper()
	if math.Abs(want-got) > 1e-9 {
		t.Errorf("want %.10f, got %.10f", want, got)
	}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestSMA(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.True(t, ok)
	assertClose(t, 4, v)

	_, ok = SMA([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestEMASeriesSeedsWithSMA(t *testing.T) {
	s := EMASeries([]float64{2, 4, 6, 8}, 3)
	require.Len(t, s, 2)
	assertClose(t, 4, s[0])
	// k = 0.5: (8-4)*0.5 + 4
	assertClose(t, 6, s[1])
}

func TestRSIBounds(t *testing.T) {
	up, ok := RSI(ramp(20, 10, 1), 14)
	require.True(t, ok)
	assertClose(t, 100, up)

	down, ok := RSI(ramp(20, 50, -1), 14)
	require.True(t, ok)
	assertClose(t, 0, down)

	flat, ok := RSI(ramp(20, 10, 0), 14)
	require.True(t, ok)
	assertClose(t, 50, flat)

	_, ok = RSI(ramp(14, 10, 1), 14)
	assert.False(t, ok, "needs period+1 values")
}

func TestRSIAlternatingIsBalanced(t *testing.T) {
	values := make([]float64, 29)
	for i := range values {
		if i%2 == 0 {
			values[i] = 10
		} else {
			values[i] = 11
		}
	}
	v, ok := RSI(values, 14)
	require.True(t, ok)
	assert.InDelta(t, 50, v, 5)
}

func TestBollingerConstantSeriesCollapses(t *testing.T) {
	b, ok := Bollinger(ramp(20, 42, 0), 20, 2)
	require.True(t, ok)
	assertClose(t, 42, b.Upper)
	assertClose(t, 42, b.Middle)
	assertClose(t, 42, b.Lower)
}

func TestBollingerKnownDeviation(t *testing.T) {
	// population sd of {1,3} is 1
	b, ok := Bollinger([]float64{1, 3}, 2, 2)
	require.True(t, ok)
	assertClose(t, 2, b.Middle)
	assertClose(t, 4, b.Upper)
	assertClose(t, 0, b.Lower)
}

func TestMACDOnLinearSeries(t *testing.T) {
	// For a linear ramp both EMAs lag by a constant, so the line settles at
	// slope*(slowLag-fastLag) = 1*((26-1)/2 - (12-1)/2) = 7.
	m, ok := MACD(ramp(200, 100, 1), 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, 7, m.Line, 1e-6)
	assert.InDelta(t, 7, m.Signal, 1e-6)
	assert.InDelta(t, 0, m.Histogram, 1e-6)
}

func TestMACDNeedsEnoughValues(t *testing.T) {
	_, ok := MACD(ramp(33, 1, 1), 12, 26, 9)
	assert.False(t, ok)
	_, ok = MACD(ramp(34, 1, 1), 12, 26, 9)
	assert.True(t, ok)
}

func bars(n int) []models.Bar {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000, Timestamp: start.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestComputeRespectsMinimumWindow(t *testing.T) {
	now := time.Now()

	_, ok := Compute(bars(19), 20, now)
	assert.False(t, ok)

	// a configured window below the indicator minimum is raised to it
	_, ok = Compute(bars(19), 5, now)
	assert.False(t, ok)

	tech, ok := Compute(bars(20), 20, now)
	require.True(t, ok)
	assertClose(t, 109.5, tech.SMA20)
	assertClose(t, 1000, tech.AvgVolume20)
	assert.True(t, tech.SMA50.IsNone())
	assert.True(t, tech.MACD.IsNone())
	assert.Equal(t, 20, tech.Bars)
}

func TestComputeFillsLongWindowsWhenAvailable(t *testing.T) {
	tech, ok := Compute(bars(60), 20, time.Now())
	require.True(t, ok)
	require.True(t, tech.SMA50.IsSome())
	assertClose(t, 134.5, tech.SMA50.Unwrap())
	require.True(t, tech.MACD.IsSome())
	assert.Greater(t, tech.MACD.Unwrap().Line, 0.0)
	assertClose(t, 100, tech.RSI)
}
