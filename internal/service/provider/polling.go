package provider

import (
	"context"
	"math"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/internal/service/twelvedata"
	"MarketPulse/pkg/logger"
)

// QuoteSource is the slice of the TwelveData client the poller needs.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (twelvedata.Quote, error)
}

type PollingConfig struct {
	Interval       time.Duration
	BootstrapDays  int
	BootstrapLimit time.Duration
}

// Polling asks for every subscribed quote once per interval and synthesizes
// a bar from consecutive observations.
type Polling struct {
	cfg     PollingConfig
	quotes  QuoteSource
	boot    *bootstrapper
	symbols *symbolSet
	logger  *logger.Logger
	metrics drepo.Metrics
	now     func() time.Time

	mu     sync.Mutex
	sink   drepo.MarketSink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   map[string]observation
}

type observation struct {
	close  float64
	volume float64
}

func NewPolling(cfg PollingConfig, quotes QuoteSource, history drepo.HistoryFetcher, synth *simulated.Generator, lgr *logger.Logger, metrics drepo.Metrics) *Polling {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BootstrapLimit <= 0 {
		// bootstrap waits behind the request scheduler
		cfg.BootstrapLimit = 2 * time.Minute
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	if synth == nil {
		synth = simulated.NewGenerator(0, 0)
	}
	p := &Polling{
		cfg:     cfg,
		quotes:  quotes,
		symbols: newSymbolSet(),
		logger:  lgr.With(logger.String("provider", twelvedata.ProviderName)),
		metrics: metrics,
		now:     time.Now,
		last:    make(map[string]observation),
	}
	p.boot = &bootstrapper{
		fetcher: history,
		synth:   synth,
		days:    cfg.BootstrapDays,
		timeout: cfg.BootstrapLimit,
		logger:  p.logger,
		metrics: metrics,
		now:     func() time.Time { return p.now() },
	}
	return p
}

func (p *Polling) Name() string { return twelvedata.ProviderName }

func (p *Polling) Start(ctx context.Context, sink drepo.MarketSink) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.sink, p.ctx, p.cancel = sink, ctx, cancel
	p.mu.Unlock()

	sink.OnConnected(p.Name())
	for _, sym := range p.symbols.list() {
		p.bootstrapAsync(ctx, sym, sink)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
	p.logger.Info("polling provider started", logger.Duration("interval", p.cfg.Interval))
	return nil
}

func (p *Polling) bootstrapAsync(ctx context.Context, symbol string, sink drepo.MarketSink) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.boot.load(ctx, symbol, sink)
	}()
}

func (p *Polling) Subscribe(symbol string) error {
	if !p.symbols.add(symbol) {
		return nil
	}
	p.mu.Lock()
	ctx, sink := p.ctx, p.sink
	p.mu.Unlock()
	if sink != nil {
		p.bootstrapAsync(ctx, symbol, sink)
	}
	return nil
}

func (p *Polling) Unsubscribe(symbol string) error {
	if p.symbols.remove(symbol) {
		p.mu.Lock()
		delete(p.last, symbol)
		p.mu.Unlock()
	}
	return nil
}

// Poll runs one cycle. Each quote waits its turn in the request scheduler, so
// a cycle may outlast the interval; the ticker drops the overlap.
func (p *Polling) Poll(ctx context.Context) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}

	for _, sym := range p.symbols.list() {
		if ctx.Err() != nil {
			return
		}
		q, err := p.quotes.Quote(ctx, sym)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("quote poll failed", logger.String("symbol", sym), logger.Error(err))
			}
			continue
		}
		// dropped while waiting in the queue
		if !p.symbols.has(sym) {
			continue
		}
		tick, bar := p.observe(sym, q)
		sink.OnTick(tick)
		sink.OnBar(sym, bar)
	}
}

func (p *Polling) observe(symbol string, q twelvedata.Quote) (models.Tick, models.Bar) {
	now := p.now()

	p.mu.Lock()
	prev, seen := p.last[symbol]
	p.last[symbol] = observation{close: q.Price, volume: q.Volume}
	p.mu.Unlock()

	open := q.Price
	var volume float64
	switch {
	case !seen:
		if q.Open > 0 {
			open = q.Open
		}
	case q.Volume >= prev.volume:
		open = prev.close
		volume = q.Volume - prev.volume
	default:
		// cumulative volume reset, new session
		open = prev.close
		volume = q.Volume
	}

	tick := models.Tick{
		Symbol:    symbol,
		Kind:      models.TickTrade,
		Price:     q.Price,
		Size:      volume,
		PrevClose: q.PreviousClose,
		Timestamp: now,
		Source:    twelvedata.ProviderName,
	}
	bar := models.Bar{
		Open:      open,
		High:      math.Max(open, q.Price),
		Low:       math.Min(open, q.Price),
		Close:     q.Price,
		Volume:    volume,
		Timestamp: now,
	}
	return tick, bar
}

func (p *Polling) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}
