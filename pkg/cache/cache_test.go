package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type point struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "quote:AAPL", point{"AAPL", 190.5}, time.Minute))

	var got point
	require.NoError(t, mc.Get(ctx, "quote:AAPL", &got))
	assert.Equal(t, point{"AAPL", 190.5}, got)

	clk.Advance(61 * time.Second)
	assert.ErrorIs(t, mc.Get(ctx, "quote:AAPL", &got), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "quote:AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clk.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.Advance(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s)) // b is now oldest
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()
	for _, k := range []string{"quote:AAPL", "quote:MSFT", "series:AAPL"} {
		require.NoError(t, mc.Set(ctx, k, 1, 0))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("quote:")))

	ok, _ := mc.Exists(ctx, "quote:AAPL", "quote:MSFT")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "series:AAPL")
	assert.True(t, ok)
}

func TestLayeredWithoutRemoteActsAsMemory(t *testing.T) {
	lc := NewLayeredCache(nil)
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, lc.Set(ctx, "k", []float64{1, 2}, time.Minute))
	var got []float64
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, []float64{1, 2}, got)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestLayeredPromotesFromRemote(t *testing.T) {
	remote := NewMemoryCache()
	defer remote.Close()
	ctx := context.Background()
	require.NoError(t, remote.Set(ctx, "k", point{"NVDA", 485.5}, time.Hour))

	lc := NewLayeredCache(remote)
	var got point
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, 485.5, got.Price)

	// served from L1 after the remote copy is gone
	require.NoError(t, remote.Delete(ctx, "k"))
	got = point{}
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "NVDA", got.Symbol)
}

func TestGetOrLoadCachesSuccessOnly(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (point, error) {
		calls++
		return point{"TSLA", 250}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(ctx, mc, "q:TSLA", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, 250.0, v.Price)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("upstream down")
	_, err := GetOrLoad(ctx, mc, "q:AMD", time.Minute, func(context.Context) (point, error) { return point{}, boom })
	assert.ErrorIs(t, err, boom)
	ok, _ := mc.Exists(ctx, "q:AMD")
	assert.False(t, ok)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "indicator:rsi:AAPL:14", GenerateKeyWithParams("indicator", "rsi", "AAPL", 14))
	assert.Equal(t, "p:x", GenerateKey("p", "x"))
}
