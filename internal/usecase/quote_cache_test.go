package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

func TestQuoteCacheAttachesTechnicals(t *testing.T) {
	c := NewQuoteCache()
	_, ok := c.Get("AAPL")
	assert.False(t, ok)

	c.Put(&models.Quote{Symbol: "AAPL", Price: 190})
	q, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.Nil(t, q.Technicals)

	c.SetTechnicals("AAPL", models.Technicals{RSI: 55, Bars: 20})
	q, ok = c.Get("AAPL")
	require.True(t, ok)
	require.NotNil(t, q.Technicals)
	assert.Equal(t, 55.0, q.Technicals.RSI)

	tech, ok := c.Technicals("AAPL")
	require.True(t, ok)
	assert.Equal(t, 20, tech.Bars)
}

func TestQuoteCacheLenCountsQuotesOnly(t *testing.T) {
	c := NewQuoteCache()
	c.SetTechnicals("MSFT", models.Technicals{})
	assert.Equal(t, 0, c.Len())

	c.Put(&models.Quote{Symbol: "MSFT", Price: 1})
	c.Put(&models.Quote{Symbol: "AAPL", Price: 2})
	assert.Equal(t, 2, c.Len())

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "AAPL", all[0].Symbol)

	c.Delete("MSFT")
	assert.Equal(t, 1, c.Len())
	_, ok := c.Technicals("MSFT")
	assert.False(t, ok)
}

func TestQuoteCacheConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			v := float64(i)
			c.Put(&models.Quote{Symbol: "SPY", Price: v, Volume: v})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if q, ok := c.Get("SPY"); ok {
				assert.Equal(t, q.Price, q.Volume)
			}
		}
	}()
	wg.Wait()
}
