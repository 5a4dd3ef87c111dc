// Package simulated produces synthetic market data from a seeded random walk.
package simulated

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

const (
	ProviderName = "simulated"

	DefaultPrice      = 100.0
	DefaultVolatility = 0.02

	historyVolatility = 0.04
	minVolume         = 100_000
	volumeSpread      = 1_000_000
)

// Generator walks one price per symbol. Each step moves the price by at most
// volatility in either direction.
type Generator struct {
	volatility float64

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]float64
	volumes map[string]float64
}

// NewGenerator returns a generator; seed 0 seeds from the clock.
func NewGenerator(seed int64, volatility float64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if volatility <= 0 || volatility >= 1 {
		volatility = DefaultVolatility
	}
	return &Generator{
		volatility: volatility,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]float64),
		volumes:    make(map[string]float64),
	}
}

// SetPrice seeds the walk for symbol. A positive volume pins the volume of
// the next step.
func (g *Generator) SetPrice(symbol string, price, volume float64) {
	if price <= 0 {
		return
	}
	g.mu.Lock()
	g.prices[symbol] = price
	if volume > 0 {
		g.volumes[symbol] = volume
	}
	g.mu.Unlock()
}

func (g *Generator) Price(symbol string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prices[symbol]
	return p, ok
}

func (g *Generator) Forget(symbol string) {
	g.mu.Lock()
	delete(g.prices, symbol)
	delete(g.volumes, symbol)
	g.mu.Unlock()
}

// Step advances symbol one move and returns the trade and the bar covering it.
func (g *Generator) Step(symbol string, now time.Time) (models.Tick, models.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()

	open, ok := g.prices[symbol]
	if !ok {
		open = DefaultPrice
	}
	change := (g.rng.Float64()*2 - 1) * g.volatility
	closePrice := models.RoundCents(open * (1 + change))
	if closePrice <= 0 {
		closePrice = 0.01
	}

	volume, pinned := g.volumes[symbol]
	if pinned {
		delete(g.volumes, symbol)
	} else {
		volume = g.volume()
	}
	g.prices[symbol] = closePrice

	high := math.Max(open, closePrice)
	low := math.Min(open, closePrice)
	tick := models.Tick{
		Symbol:    symbol,
		Kind:      models.TickTrade,
		Price:     closePrice,
		Size:      volume,
		Timestamp: now,
		Source:    ProviderName,
	}
	bar := models.Bar{
		Open:      models.RoundCents(open),
		High:      models.RoundCents(high),
		Low:       models.RoundCents(low),
		Close:     closePrice,
		Volume:    volume,
		Timestamp: now,
	}
	return tick, bar
}

// StartPrice is the deterministic base used when nothing is known about symbol.
func StartPrice(symbol string) float64 {
	if symbol == "" {
		return DefaultPrice
	}
	return DefaultPrice + float64(symbol[0]%50)
}

// History generates days+1 daily bars ending at end, oldest first, and seeds
// the walk from the last close.
func (g *Generator) History(symbol string, days int, end time.Time) []models.Bar {
	if days < 0 {
		days = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[symbol]
	if !ok {
		price = StartPrice(symbol)
	}
	end = end.Truncate(24 * time.Hour)

	bars := make([]models.Bar, 0, days+1)
	for i := days; i >= 0; i-- {
		open := price
		closePrice := open + (g.rng.Float64()-0.5)*historyVolatility*open
		if closePrice <= 0.01 {
			closePrice = 0.01
		}
		high := math.Max(open, closePrice) * (1 + g.rng.Float64()*0.02)
		low := math.Min(open, closePrice) * (1 - g.rng.Float64()*0.02)
		bars = append(bars, models.Bar{
			Open:      models.RoundCents(open),
			High:      models.RoundCents(high),
			Low:       models.RoundCents(low),
			Close:     models.RoundCents(closePrice),
			Volume:    g.volume(),
			Timestamp: end.AddDate(0, 0, -i),
		})
		price = closePrice
	}
	g.prices[symbol] = bars[len(bars)-1].Close
	return bars
}

func (g *Generator) volume() float64 {
	return float64(minVolume + g.rng.Intn(volumeSpread))
}
