package provider

import (
	"context"
	"sync"
	"time"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/pkg/logger"
)

type SimulatedConfig struct {
	Interval      time.Duration
	Seed          int64
	Volatility    float64
	BootstrapDays int
}

// Simulated emits one trade and one bar per symbol on every interval.
type Simulated struct {
	cfg     SimulatedConfig
	gen     *simulated.Generator
	boot    *bootstrapper
	symbols *symbolSet
	logger  *logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	sink   drepo.MarketSink
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSimulated(cfg SimulatedConfig, lgr *logger.Logger, metrics drepo.Metrics) *Simulated {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	gen := simulated.NewGenerator(cfg.Seed, cfg.Volatility)
	s := &Simulated{
		cfg:     cfg,
		gen:     gen,
		symbols: newSymbolSet(),
		logger:  lgr.With(logger.String("provider", simulated.ProviderName)),
		now:     time.Now,
	}
	s.boot = &bootstrapper{synth: gen, days: cfg.BootstrapDays, logger: s.logger, metrics: metrics, now: s.clock}
	return s
}

func (s *Simulated) clock() time.Time { return s.now() }

func (s *Simulated) Name() string { return simulated.ProviderName }

// SeedPrice continues the walk from a known price, e.g. after failover.
func (s *Simulated) SeedPrice(symbol string, price float64) {
	s.gen.SetPrice(symbol, price, 0)
}

// SeedTick pins both the starting price and the volume of the first step.
func (s *Simulated) SeedTick(symbol string, price, volume float64) {
	s.gen.SetPrice(symbol, price, volume)
}

func (s *Simulated) Start(ctx context.Context, sink drepo.MarketSink) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sink = sink
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	sink.OnConnected(s.Name())
	for _, sym := range s.symbols.list() {
		s.bootstrap(sym, sink)
	}
	s.logger.Info("simulated provider started", logger.Duration("interval", s.cfg.Interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Advance()
			}
		}
	}()
	return nil
}

func (s *Simulated) currentSink() drepo.MarketSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// bootstrap only synthesizes history for symbols without a known price.
func (s *Simulated) bootstrap(symbol string, sink drepo.MarketSink) {
	if _, known := s.gen.Price(symbol); known {
		return
	}
	s.boot.load(context.Background(), symbol, sink)
}

func (s *Simulated) Subscribe(symbol string) error {
	if !s.symbols.add(symbol) {
		return nil
	}
	if sink := s.currentSink(); sink != nil {
		s.bootstrap(symbol, sink)
	}
	return nil
}

func (s *Simulated) Unsubscribe(symbol string) error {
	if s.symbols.remove(symbol) {
		s.gen.Forget(symbol)
	}
	return nil
}

// Advance emits one step for every subscribed symbol.
func (s *Simulated) Advance() {
	sink := s.currentSink()
	if sink == nil {
		return
	}
	now := s.now()
	for _, sym := range s.symbols.list() {
		tick, bar := s.gen.Step(sym, now)
		sink.OnTick(tick)
		sink.OnBar(sym, bar)
	}
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
