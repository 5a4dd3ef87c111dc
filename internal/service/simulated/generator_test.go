package simulated

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepStaysWithinVolatility(t *testing.T) {
	g := NewGenerator(42, 0.02)
	g.SetPrice("NVDA", 485.50, 1_000_000)

	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	tick, bar := g.Step("NVDA", now)

	assert.LessOrEqual(t, math.Abs(tick.Price-485.50)/485.50, 0.02+1e-4)
	assert.Equal(t, 1_000_000.0, tick.Size, "pinned volume applies to the first step")
	assert.Equal(t, tick.Price, bar.Close)
	assert.Equal(t, 485.50, bar.Open)
	assert.True(t, bar.Valid())
	assert.True(t, tick.Valid())

	next, _ := g.Step("NVDA", now.Add(5*time.Second))
	assert.GreaterOrEqual(t, next.Size, float64(minVolume))
	assert.Less(t, next.Size, float64(minVolume+volumeSpread))
}

func TestSameSeedSameWalk(t *testing.T) {
	a, b := NewGenerator(7, 0.02), NewGenerator(7, 0.02)
	now := time.Now()
	for i := 0; i < 50; i++ {
		ta, _ := a.Step("AAPL", now)
		tb, _ := b.Step("AAPL", now)
		require.Equal(t, ta.Price, tb.Price)
	}
}

func TestUnknownSymbolStartsAtDefault(t *testing.T) {
	g := NewGenerator(1, 0.02)
	tick, bar := g.Step("ZZZ", time.Now())
	assert.Equal(t, DefaultPrice, bar.Open)
	assert.InDelta(t, DefaultPrice, tick.Price, DefaultPrice*0.02+0.01)
}

func TestHistoryShape(t *testing.T) {
	g := NewGenerator(3, 0.02)
	end := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	bars := g.History("MSFT", 30, end)

	require.Len(t, bars, 31)
	assert.Equal(t, StartPrice("MSFT"), bars[0].Open)
	for i, b := range bars {
		require.True(t, b.Valid(), "bar %d", i)
		assert.GreaterOrEqual(t, b.Volume, float64(minVolume))
		if i > 0 {
			assert.True(t, b.Timestamp.After(bars[i-1].Timestamp))
		}
	}
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), bars[30].Timestamp)

	p, ok := g.Price("MSFT")
	require.True(t, ok)
	assert.Equal(t, bars[30].Close, p, "the walk continues from the last synthetic close")
}
