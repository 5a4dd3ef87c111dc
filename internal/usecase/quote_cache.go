package usecase

import (
	"sort"
	"sync"
	"sync/atomic"

	"MarketPulse/internal/domain/models"
)

// QuoteCache holds the latest quote and technicals per symbol. Each value is
// an immutable snapshot swapped in with one atomic store; the mutex only
// guards the map itself.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]*quoteEntry
}

type quoteEntry struct {
	quote      atomic.Pointer[models.Quote]
	technicals atomic.Pointer[models.Technicals]
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{entries: make(map[string]*quoteEntry)}
}

func (c *QuoteCache) entry(symbol string, create bool) *quoteEntry {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok || !create {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[symbol]; !ok {
		e = &quoteEntry{}
		c.entries[symbol] = e
	}
	return e
}

// Get returns the latest quote with the latest technicals attached.
func (c *QuoteCache) Get(symbol string) (models.Quote, bool) {
	e := c.entry(symbol, false)
	if e == nil {
		return models.Quote{}, false
	}
	q := e.quote.Load()
	if q == nil {
		return models.Quote{}, false
	}
	out := *q
	out.Technicals = e.technicals.Load()
	return out, true
}

// Put publishes q as the new snapshot. q must not be modified afterwards.
func (c *QuoteCache) Put(q *models.Quote) {
	c.entry(q.Symbol, true).quote.Store(q)
}

func (c *QuoteCache) Technicals(symbol string) (models.Technicals, bool) {
	e := c.entry(symbol, false)
	if e == nil {
		return models.Technicals{}, false
	}
	t := e.technicals.Load()
	if t == nil {
		return models.Technicals{}, false
	}
	return *t, true
}

func (c *QuoteCache) SetTechnicals(symbol string, t models.Technicals) {
	c.entry(symbol, true).technicals.Store(&t)
}

func (c *QuoteCache) Delete(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}

// Len counts symbols that have a quote.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if e.quote.Load() != nil {
			n++
		}
	}
	return n
}

// All returns every cached quote sorted by symbol.
func (c *QuoteCache) All() []models.Quote {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.entries))
	for s := range c.entries {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := c.Get(s); ok {
			out = append(out, q)
		}
	}
	return out
}
