package provider

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/mocks"
	"MarketPulse/internal/service/connection"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/internal/service/twelvedata"
)

type recordingSink struct {
	mu        sync.Mutex
	ticks     []models.Tick
	bars      map[string][]models.Bar
	history   map[string][]models.Bar
	connected []string
	failed    []error
	events    chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		bars:    make(map[string][]models.Bar),
		history: make(map[string][]models.Bar),
		events:  make(chan string, 64),
	}
}

func (s *recordingSink) OnTick(t models.Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, t)
	s.mu.Unlock()
	s.events <- "tick"
}

func (s *recordingSink) OnBar(symbol string, bar models.Bar) {
	s.mu.Lock()
	s.bars[symbol] = append(s.bars[symbol], bar)
	s.mu.Unlock()
	s.events <- "bar"
}

func (s *recordingSink) OnHistory(symbol string, bars []models.Bar) {
	s.mu.Lock()
	s.history[symbol] = bars
	s.mu.Unlock()
	s.events <- "history"
}

func (s *recordingSink) OnConnected(provider string) {
	s.mu.Lock()
	s.connected = append(s.connected, provider)
	s.mu.Unlock()
}

func (s *recordingSink) OnDisconnected(string, error) {}

func (s *recordingSink) OnFailed(_ string, err error) {
	s.mu.Lock()
	s.failed = append(s.failed, err)
	s.mu.Unlock()
	s.events <- "failed"
}

func (s *recordingSink) await(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-s.events:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no %q event", want)
		}
	}
}

func TestSimulatedSeededTickStaysInBand(t *testing.T) {
	p := NewSimulated(SimulatedConfig{Interval: time.Hour, Seed: 99, Volatility: 0.02, BootstrapDays: 30}, nil, nil)
	sink := newRecordingSink()
	require.NoError(t, p.Start(context.Background(), sink))
	defer p.Close()

	p.SeedTick("NVDA", 485.50, 1_000_000)
	require.NoError(t, p.Subscribe("NVDA"))
	p.Advance()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"simulated"}, sink.connected)
	assert.Empty(t, sink.history["NVDA"], "a known price needs no synthetic history")
	require.Len(t, sink.ticks, 1)
	tick := sink.ticks[0]
	assert.LessOrEqual(t, math.Abs(tick.Price-485.50)/485.50, 0.0201)
	assert.Equal(t, 1_000_000.0, tick.Size)
	require.Len(t, sink.bars["NVDA"], 1)
	assert.Equal(t, tick.Price, sink.bars["NVDA"][0].Close)
}

func TestSimulatedUnknownSymbolGetsSyntheticHistory(t *testing.T) {
	p := NewSimulated(SimulatedConfig{Interval: time.Hour, Seed: 5, BootstrapDays: 30}, nil, nil)
	sink := newRecordingSink()
	require.NoError(t, p.Start(context.Background(), sink))
	defer p.Close()

	require.NoError(t, p.Subscribe("AAPL"))
	require.NoError(t, p.Subscribe("AAPL"))

	sink.mu.Lock()
	bars := sink.history["AAPL"]
	sink.mu.Unlock()
	require.Len(t, bars, 31)

	p.Advance()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ticks, 1, "duplicate subscribe does not double the feed")
	assert.Equal(t, bars[30].Close, sink.bars["AAPL"][0].Open)
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string][]twelvedata.Quote
	err    error
}

func (f *fakeQuotes) Quote(_ context.Context, symbol string) (twelvedata.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return twelvedata.Quote{}, f.err
	}
	q := f.quotes[symbol]
	if len(q) == 0 {
		return twelvedata.Quote{}, errors.New("no quote")
	}
	head := q[0]
	if len(q) > 1 {
		f.quotes[symbol] = q[1:]
	}
	return head, nil
}

func TestPollingSynthesizesBarsFromQuotes(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryFetcher(ctrl)
	history.EXPECT().FetchDaily(gomock.Any(), "MSFT", 10).Return(nil, twelvedata.ErrRateLimited)

	quotes := &fakeQuotes{quotes: map[string][]twelvedata.Quote{
		"MSFT": {
			{Symbol: "MSFT", Price: 410, Open: 405, Volume: 1000, PreviousClose: 400},
			{Symbol: "MSFT", Price: 412, Open: 405, Volume: 1600, PreviousClose: 400},
		},
	}}
	p := NewPolling(PollingConfig{Interval: time.Hour, BootstrapDays: 10}, quotes, history, simulated.NewGenerator(1, 0.02), nil, nil)
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx, sink))
	defer p.Close()

	require.NoError(t, p.Subscribe("MSFT"))
	sink.await(t, "history")

	p.Poll(ctx)
	p.Poll(ctx)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.history["MSFT"], 11, "failed fetch falls back to synthetic bars")
	require.Len(t, sink.bars["MSFT"], 2)
	first, second := sink.bars["MSFT"][0], sink.bars["MSFT"][1]
	assert.Equal(t, 405.0, first.Open)
	assert.Equal(t, 0.0, first.Volume)
	assert.Equal(t, 410.0, second.Open, "open is the previous close")
	assert.Equal(t, 412.0, second.Close)
	assert.Equal(t, 600.0, second.Volume, "volume is the cumulative delta")
	assert.Equal(t, 400.0, sink.ticks[1].PrevClose)
}

func TestPollingSkipsFailedQuotes(t *testing.T) {
	quotes := &fakeQuotes{err: twelvedata.ErrRateLimited}
	p := NewPolling(PollingConfig{Interval: time.Hour}, quotes, nil, nil, nil, nil)
	sink := newRecordingSink()
	require.NoError(t, p.Start(context.Background(), sink))
	defer p.Close()
	require.NoError(t, p.Subscribe("AAPL"))

	p.Poll(context.Background())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.ticks)
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context) (connection.Session, error) {
	return nil, errors.New("connection refused")
}

func TestStreamingReportsFailureAfterExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryFetcher(ctrl)
	bars := []models.Bar{{Open: 1, High: 2, Low: 1, Close: 2, Volume: 10, Timestamp: time.Now().Add(-24 * time.Hour)}}
	history.EXPECT().FetchDaily(gomock.Any(), "TSLA", 5).Return(bars, nil)

	s := newStreaming(StreamingConfig{
		Reconnect:     connection.Config{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 2},
		BootstrapDays: 5,
	}, refusingDialer{}, history, nil, nil, nil)

	assert.ErrorIs(t, s.Subscribe("TSLA"), ErrNotStarted)

	sink := newRecordingSink()
	require.NoError(t, s.Start(context.Background(), sink))
	defer s.Close()
	require.NoError(t, s.Subscribe("TSLA"))

	sink.await(t, "failed")
	s.wg.Wait()

	assert.Equal(t, string(connection.StateFailed), s.ConnectionState())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.failed, 1)
	assert.ErrorIs(t, sink.failed[0], connection.ErrExhausted)
	assert.Equal(t, bars, sink.history["TSLA"])
}
